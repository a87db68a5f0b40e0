package core

import (
	"errors"
	"testing"
	"time"
)

// TestJob_InitialState verifies a fresh job handle
// Given: A newly created job
// When: Its handle is inspected
// Then: It is Created, non-terminal, with no result, error or done signal
func TestJob_InitialState(t *testing.T) {
	j := newJob(nil, nil, false)

	if j.State() != JobCreated {
		t.Errorf("State() = %v, want JobCreated", j.State())
	}
	if j.State().Terminal() {
		t.Error("Created state reported as terminal")
	}
	if j.Err() != nil {
		t.Errorf("Err() = %v, want nil", j.Err())
	}
	select {
	case <-j.Done():
		t.Error("Done() closed before any terminal transition")
	default:
	}
	if j.Context().Err() != nil {
		t.Error("job context cancelled before any cancel request")
	}
}

// TestJob_UniqueIDs verifies identifier allocation
// Given: Several jobs created in sequence
// When: Their IDs are compared
// Then: Every job has a distinct ID
func TestJob_UniqueIDs(t *testing.T) {
	seen := make(map[uint64]bool)
	for i := 0; i < 100; i++ {
		j := newJob(nil, nil, false)
		if seen[j.ID()] {
			t.Fatalf("duplicate job ID %d", j.ID())
		}
		seen[j.ID()] = true
	}
}

// TestJob_TransitionLifecycle verifies the happy-path state machine
// Given: A created job
// When: It transitions Running then Completed
// Then: Each guarded transition succeeds and the result becomes visible
func TestJob_TransitionLifecycle(t *testing.T) {
	j := newJob(nil, nil, false)

	if !j.tryTransition(JobRunning, nil, nil, JobCreated) {
		t.Fatal("Created -> Running transition refused")
	}
	if j.State() != JobRunning {
		t.Fatalf("State() = %v, want JobRunning", j.State())
	}

	if !j.tryTransition(JobCompleted, 42, nil, JobRunning) {
		t.Fatal("Running -> Completed transition refused")
	}

	value, err := j.Result()
	if err != nil {
		t.Errorf("Result() error = %v, want nil", err)
	}
	if value != 42 {
		t.Errorf("Result() value = %v, want 42", value)
	}

	select {
	case <-j.Done():
	case <-time.After(time.Second):
		t.Error("Done() not closed after terminal transition")
	}
	if j.Context().Err() == nil {
		t.Error("job context not released after terminal transition")
	}
}

// TestJob_TerminalStateIsImmutable verifies monotonicity
// Given: A completed job
// When: Further transitions and cancels are attempted
// Then: They are refused and the recorded result is unchanged
func TestJob_TerminalStateIsImmutable(t *testing.T) {
	j := newJob(nil, nil, false)
	j.tryTransition(JobRunning, nil, nil, JobCreated)
	j.tryTransition(JobCompleted, "done", nil, JobRunning)

	if j.tryTransition(JobFailed, nil, errors.New("late"), JobRunning, JobCompleted) {
		t.Error("transition out of Completed allowed")
	}
	j.Cancel()

	if j.State() != JobCompleted {
		t.Errorf("State() after late Cancel = %v, want JobCompleted", j.State())
	}
	value, err := j.Result()
	if err != nil || value != "done" {
		t.Errorf("Result() = (%v, %v), want (done, nil)", value, err)
	}
}

// TestJob_CancelBeforeRun verifies early cancellation
// Given: A created job never picked up by a worker
// When: Cancel is called
// Then: The job is Cancelled with ErrCancelled, its context is cancelled,
//       and a later Running transition is refused
func TestJob_CancelBeforeRun(t *testing.T) {
	j := newJob(nil, nil, false)
	j.Cancel()

	if j.State() != JobCancelled {
		t.Fatalf("State() = %v, want JobCancelled", j.State())
	}
	if !errors.Is(j.Err(), ErrCancelled) {
		t.Errorf("Err() = %v, want ErrCancelled", j.Err())
	}
	if j.Context().Err() == nil {
		t.Error("job context not cancelled")
	}
	if j.tryTransition(JobRunning, nil, nil, JobCreated) {
		t.Error("cancelled job allowed to start running")
	}
}

// TestJob_CancelIsIdempotent verifies repeated cancels
// Given: A cancelled job
// When: Cancel is called again
// Then: State and error are unchanged
func TestJob_CancelIsIdempotent(t *testing.T) {
	j := newJob(nil, nil, false)
	j.Cancel()
	j.Cancel()
	j.Cancel()

	if j.State() != JobCancelled {
		t.Errorf("State() = %v, want JobCancelled", j.State())
	}
	if !errors.Is(j.Err(), ErrCancelled) {
		t.Errorf("Err() = %v, want ErrCancelled", j.Err())
	}
}

// TestJob_CancelWhileRunning verifies cooperative cancellation signalling
// Given: A job in the Running state
// When: Cancel is called
// Then: The job is Cancelled and its context fires so the closure can bail
func TestJob_CancelWhileRunning(t *testing.T) {
	j := newJob(nil, nil, false)
	j.tryTransition(JobRunning, nil, nil, JobCreated)

	j.Cancel()

	if j.State() != JobCancelled {
		t.Fatalf("State() = %v, want JobCancelled", j.State())
	}
	select {
	case <-j.Context().Done():
	default:
		t.Error("job context not cancelled while running")
	}
	// The worker's own terminal transition now loses the race.
	if j.tryTransition(JobCompleted, 1, nil, JobRunning) {
		t.Error("completion transition allowed after cancel")
	}
}

// TestJobState_Strings verifies state labels used in logs and metrics
func TestJobState_Strings(t *testing.T) {
	cases := []struct {
		state JobState
		want  string
	}{
		{JobCreated, "created"},
		{JobRunning, "running"},
		{JobCompleted, "completed"},
		{JobFailed, "failed"},
		{JobCancelled, "cancelled"},
		{JobState(99), "unknown"},
	}
	for _, c := range cases {
		if got := c.state.String(); got != c.want {
			t.Errorf("%d.String() = %q, want %q", c.state, got, c.want)
		}
	}
}
