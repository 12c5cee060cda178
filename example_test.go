package textgo_test

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/hupe1980/textgo"
	"github.com/hupe1980/textgo/model"
)

func Example() {
	dir, err := os.MkdirTemp("", "textgo-example")
	if err != nil {
		log.Fatal(err)
	}
	defer os.RemoveAll(dir)

	db, err := textgo.Open(dir)
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close()

	ctx := context.Background()
	docs := map[textgo.DocID]string{
		1: "Go makes concurrency simple with goroutines",
		2: "Channels connect concurrent goroutines",
		3: "Rust has no goroutines",
	}
	for id, body := range docs {
		if err := db.Insert(ctx, model.NewDocument(id).Text("body", body).Build()); err != nil {
			log.Fatal(err)
		}
	}
	if err := db.Commit(); err != nil {
		log.Fatal(err)
	}

	hits, err := db.SearchString(ctx, "goroutines -rust", textgo.SearchOptions{Limit: 10})
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(len(hits))
	// Output: 2
}

func ExampleDB_WithTransaction() {
	dir, err := os.MkdirTemp("", "textgo-example")
	if err != nil {
		log.Fatal(err)
	}
	defer os.RemoveAll(dir)

	db, err := textgo.Open(dir)
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close()

	err = db.WithTransaction(context.Background(), textgo.Serializable, func(tx *textgo.Tx) error {
		return tx.Insert(model.NewDocument(42).Text("title", "hello world").Build())
	})
	if err != nil {
		log.Fatal(err)
	}

	doc, err := db.Get(42)
	if err != nil {
		log.Fatal(err)
	}
	title, _ := doc.Get("title")
	fmt.Println(title)
	// Output: hello world
}
