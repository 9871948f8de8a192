package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/sanity-io/litter"
	"golang.org/x/term"

	"github.com/kevinxiao27/livelist/collection"
	"github.com/kevinxiao27/livelist/service"
	"github.com/kevinxiao27/livelist/util"
)

type Task struct {
	Title string `json:"title"`
	Done  bool   `json:"done"`
}

func main() {
	litter.Config.HidePrivateFields = false
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	svc, err := service.Initialize(service.Config{DatabaseURL: "mem://demo/tasks"})
	if err != nil {
		panic(err)
	}
	tasks, err := service.AsCollection[Task](svc)
	if err != nil {
		panic(err)
	}
	defer tasks.Close()

	// strike through finished tasks on a terminal, bracket them otherwise
	tty := term.IsTerminal(int(os.Stdout.Fd()))
	done := func(title string) string {
		return util.Choose(tty, "\x1b[9m"+title+"\x1b[0m", "["+title+"]")
	}

	tasks.SubscribeFunc(func(snapshot []Task) {
		titles := util.Reduce(snapshot, func(t Task, acc []string) []string {
			return append(acc, util.Choose(t.Done, done(t.Title), t.Title))
		}, []string{})
		fmt.Printf("Snapshot: %v\n", titles)
	}, func(err error) {
		fmt.Printf("Error: %s\n", err)
	}, nil)

	keys := []string{}
	for _, title := range []string{"write", "review", "ship"} {
		key, err := tasks.Add(ctx, Task{Title: title})
		if err != nil {
			panic(err)
		}
		keys = append(keys, key)
	}

	// send the first task to the back
	must(tasks.Move(ctx, keys[0], 1))
	must(tasks.Set(ctx, keys[1], Task{Title: "review", Done: true}))
	must(tasks.RemoveAt(ctx, 0))

	pending := util.Filter(tasks.Snapshot(), func(e collection.Entry[Task]) bool { return !e.Value.Done })
	fmt.Printf("Pending: %s\n", litter.Sdump(pending))
}

func must(err error) {
	if err != nil {
		panic(err)
	}
}
