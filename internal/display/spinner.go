package display

import (
	"fmt"
	"io"
	"sync"
	"time"
)

// SpinnerStyle defines the frames of a spinner
type SpinnerStyle struct {
	Frames []string
	Delay  time.Duration
}

var (
	// DotsSpinner uses braille frames
	DotsSpinner = SpinnerStyle{
		Frames: []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"},
		Delay:  80 * time.Millisecond,
	}
	// LineSpinner uses ASCII frames
	LineSpinner = SpinnerStyle{
		Frames: []string{"-", "\\", "|", "/"},
		Delay:  100 * time.Millisecond,
	}
)

// Spinner animates a message on one terminal line while a run is in progress
type Spinner struct {
	mu      sync.Mutex
	writer  io.Writer
	style   SpinnerStyle
	colors  *ColorSystem
	message string
	active  bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewSpinner creates a stopped spinner
func NewSpinner(writer io.Writer, style SpinnerStyle, colors *ColorSystem) *Spinner {
	return &Spinner{writer: writer, style: style, colors: colors}
}

// Start begins the animation; a running spinner only changes its message
func (s *Spinner) Start(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.message = message
	if s.active {
		return
	}
	s.active = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	go s.animate(s.stopCh, s.doneCh)
}

// Stop ends the animation, clears the line and prints finalMessage if set
func (s *Spinner) Stop(finalMessage string) {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return
	}
	s.active = false
	close(s.stopCh)
	done := s.doneCh
	s.mu.Unlock()

	<-done
	fmt.Fprint(s.writer, "\r\033[K")
	if finalMessage != "" {
		fmt.Fprintln(s.writer, finalMessage)
	}
}

// Active reports whether the spinner is animating
func (s *Spinner) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

func (s *Spinner) animate(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.style.Delay)
	defer ticker.Stop()

	for frame := 0; ; frame++ {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.mu.Lock()
			message := s.message
			s.mu.Unlock()

			glyph := s.style.Frames[frame%len(s.style.Frames)]
			if s.colors != nil {
				glyph = s.colors.Colorize(glyph, s.colors.Theme().Primary)
			}
			fmt.Fprintf(s.writer, "\r\033[K%s %s", glyph, message)
		}
	}
}
