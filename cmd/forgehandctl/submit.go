package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/xeipuuv/gojsonschema"

	"forgehand/queue"
)

// payloadSchema validates a submitted task payload before it ever reaches
// the inbox, the same fail-fast-at-the-edge role xeipuuv/gojsonschema plays
// wherever the examples pack validates request bodies: reject malformed
// input at the CLI boundary instead of letting the daemon discover it mid
// task.
const payloadSchema = `{
	"type": "object",
	"required": ["repository", "branch", "title"],
	"properties": {
		"number": {"type": "integer"},
		"title": {"type": "string", "minLength": 1},
		"body": {"type": "string"},
		"labels": {"type": "array", "items": {"type": "string"}},
		"branch": {"type": "string", "minLength": 1},
		"repository": {"type": "string", "pattern": "^[^/]+/[^/]+$"}
	}
}`

var (
	submitFile       string
	submitRepository string
	submitBranch     string
	submitTitle      string
	submitBody       string
	submitLabels     []string
	submitMaxRetries int
)

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit a task to a running forgehand-worker's inbox",
	Long: `Submit validates a task payload against its JSON schema and drops it into
the forgehand-worker inbox directory, where the daemon's next poll cycle
will pick it up. Provide the payload either via --file (a JSON document) or
via the individual --repository/--branch/--title/... flags.`,
	RunE: runSubmit,
}

func init() {
	submitCmd.Flags().StringVar(&submitFile, "file", "", "path to a JSON task payload (overrides the other flags)")
	submitCmd.Flags().StringVar(&submitRepository, "repository", "", `"owner/repo" to target`)
	submitCmd.Flags().StringVar(&submitBranch, "branch", "", "branch name to operate on")
	submitCmd.Flags().StringVar(&submitTitle, "title", "", "task title")
	submitCmd.Flags().StringVar(&submitBody, "body", "", "task body (may include an \"Affected Paths\" section)")
	submitCmd.Flags().StringSliceVar(&submitLabels, "label", nil, "label, e.g. priority:high (repeatable)")
	submitCmd.Flags().IntVar(&submitMaxRetries, "max-retries", 3, "maximum retry attempts before dead-lettering")
}

func runSubmit(cmd *cobra.Command, args []string) error {
	var raw []byte
	var err error
	if submitFile != "" {
		raw, err = os.ReadFile(submitFile)
		if err != nil {
			return fmt.Errorf("read payload file: %w", err)
		}
	} else {
		if submitRepository == "" || submitBranch == "" || submitTitle == "" {
			return fmt.Errorf("either --file or all of --repository/--branch/--title is required")
		}
		payload := queue.Payload{
			Title:      submitTitle,
			Body:       submitBody,
			Labels:     submitLabels,
			Branch:     submitBranch,
			Repository: submitRepository,
		}
		raw, err = json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal payload: %w", err)
		}
	}

	if err := validatePayload(raw); err != nil {
		return err
	}

	inboxDir := filepath.Join(workDir, "inbox")
	if err := os.MkdirAll(inboxDir, 0o755); err != nil {
		return fmt.Errorf("create inbox dir: %w", err)
	}

	name := fmt.Sprintf("task-%d.json", time.Now().UnixNano())
	path := filepath.Join(inboxDir, name)
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("write inbox file: %w", err)
	}

	fmt.Printf("submitted task to inbox: %s\n", path)
	return nil
}

func validatePayload(raw []byte) error {
	schemaLoader := gojsonschema.NewStringLoader(payloadSchema)
	docLoader := gojsonschema.NewBytesLoader(raw)

	result, err := gojsonschema.Validate(schemaLoader, docLoader)
	if err != nil {
		return fmt.Errorf("validate payload: %w", err)
	}
	if !result.Valid() {
		msg := "payload failed validation:"
		for _, e := range result.Errors() {
			msg += "\n  - " + e.String()
		}
		return fmt.Errorf("%s", msg)
	}
	return nil
}
