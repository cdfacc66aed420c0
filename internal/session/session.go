// Package session tracks one image analysis from selection to verdict.
//
// The classifier client is stateless; the session is the caller-side state
// machine:
//
//	idle -> imageSelected -> analyzing -> resultReady | failed -> idle
//
// Reset returns to idle from any state. A Reset while a request is in flight
// makes that request stale and its outcome is dropped when it arrives.
package session

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/GoosieGav/PestHub/internal/classifier"
)

// State is the position of a session in its lifecycle.
type State int

const (
	StateIdle State = iota
	StateImageSelected
	StateAnalyzing
	StateResultReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateImageSelected:
		return "imageSelected"
	case StateAnalyzing:
		return "analyzing"
	case StateResultReady:
		return "resultReady"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

var (
	// ErrNoImage is returned by Analyze when no image has been selected.
	ErrNoImage = errors.New("no image selected")
	// ErrBusy is returned when an analysis is already running.
	ErrBusy = errors.New("analysis already in progress")
	// ErrStale is returned by Analyze when the session was reset while the
	// request was in flight.
	ErrStale = errors.New("session was reset during analysis")
)

// Classifier is the subset of the client a session needs.
type Classifier interface {
	ClassifyPest(ctx context.Context, location string) classifier.Result[classifier.ClassificationResult]
}

// Snapshot is a consistent copy of the session's state.
type Snapshot struct {
	ID     string
	State  State
	Image  string
	Result *classifier.ClassificationResult
	Err    *classifier.Error
}

// Session is safe for concurrent use.
type Session struct {
	client Classifier

	mu     sync.Mutex
	id     string
	gen    uint64
	state  State
	image  string
	result *classifier.ClassificationResult
	err    *classifier.Error
}

// New returns an idle session.
func New(client Classifier) *Session {
	return &Session{client: client, id: uuid.NewString()}
}

// SelectImage records the image to analyze, discarding any earlier result.
func (s *Session) SelectImage(location string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateAnalyzing {
		return ErrBusy
	}
	s.image = location
	s.result = nil
	s.err = nil
	s.state = StateImageSelected
	return nil
}

// Analyze classifies the selected image. The returned Result is also kept
// in the session. A not-a-pest verdict moves the session to resultReady.
func (s *Session) Analyze(ctx context.Context) (classifier.Result[classifier.ClassificationResult], error) {
	s.mu.Lock()
	switch s.state {
	case StateAnalyzing:
		s.mu.Unlock()
		return classifier.Result[classifier.ClassificationResult]{}, ErrBusy
	case StateImageSelected:
	default:
		s.mu.Unlock()
		return classifier.Result[classifier.ClassificationResult]{}, ErrNoImage
	}
	s.state = StateAnalyzing
	gen := s.gen
	image := s.image
	s.mu.Unlock()

	res := s.client.ClassifyPest(ctx, image)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen {
		return res, ErrStale
	}
	if data, ok := res.Data(); ok {
		s.result = &data
		s.state = StateResultReady
	} else {
		s.err = res.Err()
		s.state = StateFailed
	}
	return res, nil
}

// Reset clears the session back to idle and starts a new session id.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	s.id = uuid.NewString()
	s.state = StateIdle
	s.image = ""
	s.result = nil
	s.err = nil
}

// Snapshot returns the current state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{ID: s.id, State: s.state, Image: s.image, Err: s.err}
	if s.result != nil {
		r := *s.result
		snap.Result = &r
	}
	return snap
}
