package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/invopop/jsonschema"
	"github.com/spf13/cobra"

	"github.com/mcoot/tilerush/internal/model"
)

// sessionProtocol lists every websocket payload keyed by its event type
type sessionProtocol struct {
	Inbound struct {
		Join        model.JoinPayload        `json:"join"`
		SubmitScore model.SubmitScorePayload `json:"submit_score"`
		SpendEnergy model.SpendEnergyPayload `json:"spend_energy"`
		Chat        model.ChatPayload        `json:"chat"`
		Heartbeat   model.HeartbeatPayload   `json:"heartbeat"`
	} `json:"inbound"`
	Outbound struct {
		Sync        model.SyncPayload         `json:"sync"`
		Energy      model.EnergyView          `json:"energy"`
		ScoreResult model.ScoreResultPayload  `json:"score_result"`
		Rejected    model.RejectedPayload     `json:"rejected"`
		Heartbeat   model.HeartbeatAckPayload `json:"heartbeat"`
		Leaderboard model.LeaderboardPayload  `json:"leaderboard"`
		ScorePosted model.ScorePostedPayload  `json:"score_posted"`
		Chat        model.ChatMessagePayload  `json:"chat"`
	} `json:"outbound"`
}

func newSchemaCmd() *cobra.Command {
	var outPath string

	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Print the JSON schema of the websocket session protocol",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if outPath == "" {
				return writeSchema(os.Stdout, buildSchema())
			}
			return writeSchemaFile(outPath, buildSchema())
		},
	}

	cmd.Flags().StringVar(&outPath, "out", "", "Write the schema to a file instead of stdout")

	return cmd
}

func buildSchema() *jsonschema.Schema {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: true,
	}
	schema := reflector.Reflect(new(sessionProtocol))
	schema.Title = "tilerush session protocol"
	schema.Description = "Payloads of the {type, payload} websocket envelopes, keyed by direction and event type"
	return schema
}

func writeSchema(w io.Writer, schema *jsonschema.Schema) error {
	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal schema: %w", err)
	}
	_, err = w.Write(append(data, '\n'))
	return err
}

func writeSchemaFile(outPath string, schema *jsonschema.Schema) error {
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return fmt.Errorf("create schema directory: %w", err)
	}

	tmpPath := outPath + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("write temp schema: %w", err)
	}
	if err := writeSchema(f, schema); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("write temp schema: %w", err)
	}

	if err := os.Rename(tmpPath, outPath); err != nil {
		return fmt.Errorf("replace schema: %w", err)
	}
	return nil
}
