package journal

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func TestAppendAndRecent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	j, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	j.Append(Entry{Agent: "bloop", Issuer: "Luize26", Channel: "chat", Input: "save home", Verb: "save", Outcome: "executed"})
	j.Append(Entry{Agent: "bloop", Issuer: "RandomPlayer", Channel: "chat", Input: "quit", Verb: "quit", Outcome: "denied"})
	if err := j.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	j2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer j2.Close()

	got, err := j2.Recent(context.Background(), 10)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Recent() returned %d entries, want 2", len(got))
	}
	if got[0].Verb != "quit" || got[0].Outcome != "denied" {
		t.Errorf("newest entry = %+v, want the quit denial first", got[0])
	}
	if got[1].Issuer != "Luize26" {
		t.Errorf("oldest entry issuer = %q, want Luize26", got[1].Issuer)
	}
	if got[0].At.IsZero() {
		t.Error("timestamp not persisted")
	}
}

func TestAppendAfterCloseDropsSilently(t *testing.T) {
	j, err := Open(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatal(err)
	}
	if err := j.Close(); err != nil {
		t.Fatal(err)
	}

	j.Append(Entry{Agent: "bloop", Input: "late", At: time.Now()})
}

func TestConcurrentAppendDuringClose(t *testing.T) {
	j, err := Open(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatal(err)
	}

	// Pipeline goroutines may still be recording while shutdown closes the
	// journal. A send racing close(ch) would panic.
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			for n := 0; n < 100; n++ {
				j.Append(Entry{Agent: "bloop", Input: "race", Verb: "say", Outcome: "executed"})
			}
		}()
	}
	close(start)
	if err := j.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	wg.Wait()
}
