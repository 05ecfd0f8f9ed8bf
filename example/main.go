package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/jpalmerr/taskpoll"
)

func main() {
	// the work function: each cycle receives the payloads buffered since
	// the previous cycle (empty for bare timer ticks and nudges)
	work := func(ctx context.Context, words []string) (string, error) {
		time.Sleep(50 * time.Millisecond)
		if len(words) == 0 {
			return "idle sweep", nil
		}
		return strings.ToUpper(strings.Join(words, " ")), nil
	}

	poller, err := taskpoll.New(work,
		taskpoll.WithInterval(300*time.Millisecond),
		taskpoll.WithBufferCapacity(8),
		taskpoll.WithWorkTimeout(time.Second),
		taskpoll.WithCapacityFunc(func() int { return 2 }),
	)
	if err != nil {
		slog.Error("failed to create poller", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	poller.Start(ctx)

	// a few on-demand payloads; they are batched into the next cycle
	for _, word := range []string{"hello", "task", "poller"} {
		if err := poller.Enqueue(ctx, word); err != nil {
			slog.Error("enqueue failed", "error", err)
		}
	}

	// ask for an immediate cycle rather than waiting for the timer
	_ = poller.Nudge(ctx)

	go func() {
		time.Sleep(2 * time.Second)
		poller.Stop()
	}()

	for res := range poller.Results() {
		if !res.Ok() {
			fmt.Printf("cycle %d failed: %v\n", res.Cycle, res.Err)
			continue
		}
		fmt.Printf("cycle %d (%d args, %s): %s\n",
			res.Cycle, len(res.Args), res.Elapsed.Round(time.Millisecond), res.Value)
	}
}
