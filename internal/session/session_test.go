package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GoosieGav/PestHub/internal/classifier"
)

type stubClassifier struct {
	res      classifier.Result[classifier.ClassificationResult]
	started  chan struct{}
	release  chan struct{}
	calls    int
	lastPath string
}

func (s *stubClassifier) ClassifyPest(ctx context.Context, location string) classifier.Result[classifier.ClassificationResult] {
	s.calls++
	s.lastPath = location
	if s.started != nil {
		close(s.started)
	}
	if s.release != nil {
		<-s.release
	}
	return s.res
}

func pestResult() classifier.Result[classifier.ClassificationResult] {
	return classifier.Succeed(classifier.ClassificationResult{IsPest: true, ClassName: "Ants", Message: "PEST DETECTED!"})
}

func TestSessionHappyPath(t *testing.T) {
	stub := &stubClassifier{res: pestResult()}
	s := New(stub)
	assert.Equal(t, StateIdle, s.Snapshot().State)
	firstID := s.Snapshot().ID
	assert.NotEmpty(t, firstID)

	require.NoError(t, s.SelectImage("/tmp/bug.png"))
	assert.Equal(t, StateImageSelected, s.Snapshot().State)

	res, err := s.Analyze(context.Background())
	require.NoError(t, err)
	assert.True(t, res.OK())

	snap := s.Snapshot()
	assert.Equal(t, StateResultReady, snap.State)
	require.NotNil(t, snap.Result)
	assert.Equal(t, "Ants", snap.Result.ClassName)
	assert.Nil(t, snap.Err)
	assert.Equal(t, "/tmp/bug.png", stub.lastPath)

	s.Reset()
	snap = s.Snapshot()
	assert.Equal(t, StateIdle, snap.State)
	assert.Nil(t, snap.Result)
	assert.Empty(t, snap.Image)
	assert.NotEqual(t, firstID, snap.ID)
}

func TestSessionNotAPestIsResultReady(t *testing.T) {
	stub := &stubClassifier{res: classifier.Succeed(classifier.ClassificationResult{IsPest: false, Message: "NOT A PEST"})}
	s := New(stub)
	require.NoError(t, s.SelectImage("leaf.jpg"))
	_, err := s.Analyze(context.Background())
	require.NoError(t, err)
	snap := s.Snapshot()
	assert.Equal(t, StateResultReady, snap.State)
	assert.False(t, snap.Result.IsPest)
}

func TestSessionFailure(t *testing.T) {
	stub := &stubClassifier{res: classifier.Fail[classifier.ClassificationResult](&classifier.Error{
		Kind:    classifier.KindConnectivity,
		Message: "cannot reach the classification service",
	})}
	s := New(stub)
	require.NoError(t, s.SelectImage("bug.jpg"))
	res, err := s.Analyze(context.Background())
	require.NoError(t, err)
	assert.False(t, res.OK())

	snap := s.Snapshot()
	assert.Equal(t, StateFailed, snap.State)
	require.NotNil(t, snap.Err)
	assert.Equal(t, classifier.KindConnectivity, snap.Err.Kind)

	require.NoError(t, s.SelectImage("other.jpg"))
	snap = s.Snapshot()
	assert.Equal(t, StateImageSelected, snap.State)
	assert.Nil(t, snap.Err)
}

func TestAnalyzeWithoutImage(t *testing.T) {
	stub := &stubClassifier{res: pestResult()}
	s := New(stub)
	_, err := s.Analyze(context.Background())
	require.ErrorIs(t, err, ErrNoImage)
	assert.Zero(t, stub.calls)

	require.NoError(t, s.SelectImage("bug.jpg"))
	_, err = s.Analyze(context.Background())
	require.NoError(t, err)
	_, err = s.Analyze(context.Background())
	require.ErrorIs(t, err, ErrNoImage, "a finished session needs a new image")
}

func TestResetDuringAnalysisDropsResult(t *testing.T) {
	stub := &stubClassifier{
		res:     pestResult(),
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	s := New(stub)
	require.NoError(t, s.SelectImage("bug.jpg"))

	done := make(chan error, 1)
	go func() {
		_, err := s.Analyze(context.Background())
		done <- err
	}()

	<-stub.started
	assert.Equal(t, StateAnalyzing, s.Snapshot().State)
	require.ErrorIs(t, s.SelectImage("again.jpg"), ErrBusy)
	_, err := s.Analyze(context.Background())
	require.ErrorIs(t, err, ErrBusy)

	s.Reset()
	close(stub.release)
	require.ErrorIs(t, <-done, ErrStale)

	snap := s.Snapshot()
	assert.Equal(t, StateIdle, snap.State)
	assert.Nil(t, snap.Result)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "imageSelected", StateImageSelected.String())
	assert.Equal(t, "analyzing", StateAnalyzing.String())
	assert.Equal(t, "resultReady", StateResultReady.String())
	assert.Equal(t, "failed", StateFailed.String())
	assert.Equal(t, "unknown", State(42).String())
}
