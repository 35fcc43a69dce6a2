// Package e2e runs the API end to end over a generated workspace.
package e2e

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hyperjump/kioku/internal/models"
)

// QueryTestCase is a query and the source path its top result must come from.
type QueryTestCase struct {
	Query        string
	ExpectedPath string
	ExpectedDate string
}

// Corpus is a set of workspace files plus queries with known answers.
type Corpus struct {
	Files     map[string]string
	TestCases []QueryTestCase
}

var facts = []string{
	"The spare key is under the blue flower pot by the back door.",
	"Dentist is Dr. Mori, the clinic opens at nine on weekdays.",
	"The wifi password for the cabin is written inside the fuse box.",
	"Mom's birthday dinner is booked at the Italian place on Elm Street.",
	"The car needs an oil change every ten thousand kilometers.",
	"Passport renewal forms are in the top drawer of the desk.",
	"The plumber's number is saved under Kenji in the phone.",
	"Library books are due back on the first Monday of the month.",
	"The cat eats the salmon kibble, never the chicken one.",
	"Tax documents for last year are in the grey folder.",
	"The gym locker combination is the same as the bike lock.",
	"Grandpa's recipe for curry uses two apples and honey.",
}

var exchanges = []models.Exchange{
	{User: "what did the vet say about the cat", Assistant: "she needs a checkup in the autumn"},
	{User: "when is the electricity bill due", Assistant: "on the twentieth of every month"},
	{User: "which train goes to the airport", Assistant: "the express from platform four"},
	{User: "what size are the living room curtains", Assistant: "two meters by one and a half"},
}

// BuildCorpus returns a workspace with topic notes, a dated journal, and daily transcripts.
// Every fact and exchange is its own chunk, so querying its exact text must rank it first.
func BuildCorpus() *Corpus {
	c := &Corpus{Files: make(map[string]string)}

	for i, fact := range facts {
		path := fmt.Sprintf("memory/topics/fact-%02d.md", i+1)
		c.Files[path] = fact + "\n"
		c.TestCases = append(c.TestCases, QueryTestCase{Query: fact, ExpectedPath: path})
	}

	var journal strings.Builder
	journal.WriteString("# Journal\n")
	for i := 0; i < 5; i++ {
		date := fmt.Sprintf("2024-03-%02d", i+10)
		line := fmt.Sprintf("- %s: finished chapter %d of the garden design book", date, i+1)
		journal.WriteString(line + "\n")
		c.TestCases = append(c.TestCases, QueryTestCase{Query: line, ExpectedPath: "memory/journal.md", ExpectedDate: date})
	}
	c.Files["memory/journal.md"] = journal.String()

	for i, ex := range exchanges {
		date := fmt.Sprintf("2024-04-%02d", i+1)
		ex.Timestamp = date + "T08:00:00Z"
		line, _ := json.Marshal(ex)
		path := "chats/" + date + ".jsonl"
		c.Files[path] = string(line) + "\n"
		c.TestCases = append(c.TestCases, QueryTestCase{Query: ex.Render(), ExpectedPath: path, ExpectedDate: date})
	}
	return c
}

// Write materializes the corpus under root.
func (c *Corpus) Write(root string) error {
	for rel, content := range c.Files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return err
		}
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			return err
		}
	}
	return nil
}
