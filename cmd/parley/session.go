package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/kestrelworks/parley/internal/config"
	"github.com/kestrelworks/parley/internal/db"
	"github.com/kestrelworks/parley/internal/models"
	"github.com/kestrelworks/parley/internal/session"
)

func newSessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Session management commands",
	}

	cmd.AddCommand(newSessionCreateCmd())
	cmd.AddCommand(newSessionGetCmd())
	return cmd
}

func newSessionCreateCmd() *cobra.Command {
	var (
		configPath   string
		sessionID    string
		subjectID    string
		channelID    string
		executionID  string
		ttlSeconds   int64
		dataPath     string
		templatePath string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a pending session",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(configPath)
			if err != nil {
				return err
			}

			if sessionID == "" {
				sessionID = uuid.NewString()
			}
			sess := &models.Session{
				SessionID:          sessionID,
				SubjectID:          subjectID,
				ReceptionChannelID: channelID,
				DSLExecutionID:     executionID,
				ExpiryDate:         time.Now().Unix() + ttlSeconds,
				Status:             models.StatusPending,
			}

			data, err := readDoc(dataPath)
			if err != nil {
				return err
			}
			if err := sess.SetData(data); err != nil {
				return err
			}
			template, err := readDoc(templatePath)
			if err != nil {
				return err
			}
			if err := sess.SetTemplate(template); err != nil {
				return err
			}

			if err := store.Insert(sess); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created session %s (expires %s)\n",
				sess.SessionID, time.Unix(sess.ExpiryDate, 0).Format(time.RFC3339))
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "parley.yaml", "path to Parley config file")
	cmd.Flags().StringVar(&sessionID, "id", "", "session ID (default: generated)")
	cmd.Flags().StringVar(&subjectID, "subject", "", "owning subject ID")
	cmd.Flags().StringVar(&channelID, "channel", "", "reception channel ID")
	cmd.Flags().StringVar(&executionID, "execution", "", "DSL execution correlation ID")
	cmd.Flags().Int64Var(&ttlSeconds, "ttl", 3600, "seconds until the session expires")
	cmd.Flags().StringVar(&dataPath, "data", "", "path to initial message data JSON")
	cmd.Flags().StringVar(&templatePath, "template", "", "path to message data template JSON")
	return cmd
}

func newSessionGetCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "get <session-id>",
		Short: "Print a session as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(configPath)
			if err != nil {
				return err
			}
			sess, err := store.Get(args[0])
			if err != nil {
				return err
			}
			data, err := sess.Data()
			if err != nil {
				return err
			}
			template, err := sess.Template()
			if err != nil {
				return err
			}
			doc := map[string]interface{}{
				"session_id":            sess.SessionID,
				"subject_id":            sess.SubjectID,
				"message_data":          data,
				"message_data_template": template,
				"reception_channel_id":  sess.ReceptionChannelID,
				"expiry_date":           sess.ExpiryDate,
				"status":                sess.Status,
				"dsl_execution_id":      sess.DSLExecutionID,
				"last_validated_at":     sess.LastValidatedAt,
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(doc)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "parley.yaml", "path to Parley config file")
	return cmd
}

func openStore(configPath string) (*session.Store, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	gormDB, err := db.Connect(cfg.Database)
	if err != nil {
		return nil, err
	}
	return session.NewStore(gormDB)
}

func readDoc(path string) (map[string]interface{}, error) {
	if path == "" {
		return map[string]interface{}{}, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return doc, nil
}
