package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"aihub/internal/chat"
	"aihub/internal/config"
	"aihub/internal/export"
	"aihub/internal/store"
)

func historyCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List, show, export and delete stored conversations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(ctx context.Context, cfg *config.Config, st *store.SQLiteStore) error {
				convs, err := st.ListConversations(ctx, limit)
				if err != nil {
					return err
				}
				if len(convs) == 0 {
					fmt.Println("no conversations yet")
					return nil
				}
				for _, c := range convs {
					fmt.Printf("%s  %s  %-12s %s\n", c.ID, c.UpdatedAt.Local().Format(time.DateTime), c.Model, c.Title)
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of conversations")

	cmd.AddCommand(&cobra.Command{
		Use:   "show [id]",
		Short: "Print a conversation transcript",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(ctx context.Context, cfg *config.Config, st *store.SQLiteStore) error {
				msgs, err := st.GetMessages(ctx, args[0], 0)
				if err != nil {
					return err
				}
				if len(msgs) == 0 {
					return fmt.Errorf("conversation %s not found", args[0])
				}
				fmt.Println(string(chat.FormatTranscript(msgs)))
				return nil
			})
		},
	})

	var format string
	exportCmd := &cobra.Command{
		Use:   "export [id]",
		Short: "Write a conversation transcript to the export directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(ctx context.Context, cfg *config.Config, st *store.SQLiteStore) error {
				msgs, err := st.GetMessages(ctx, args[0], 0)
				if err != nil {
					return err
				}
				if len(msgs) == 0 {
					return fmt.Errorf("conversation %s not found", args[0])
				}
				if format == "" {
					format = cfg.Export.Format
				}
				exp := export.New(export.Config{Dir: config.ExpandPath(cfg.Export.Dir), Format: format, Logger: logger})
				path, err := exp.Export(ctx, args[0], chat.FormatTranscript(msgs))
				if err != nil {
					return err
				}
				fmt.Println(path)
				return nil
			})
		},
	}
	exportCmd.Flags().StringVarP(&format, "format", "f", "", "text or html (default from config)")
	cmd.AddCommand(exportCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "delete [id]",
		Short: "Delete a stored conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(ctx context.Context, cfg *config.Config, st *store.SQLiteStore) error {
				if err := st.DeleteConversation(ctx, args[0]); err != nil {
					return err
				}
				logger.Info("conversation deleted", "id", args[0])
				return nil
			})
		},
	})
	return cmd
}

func withStore(fn func(ctx context.Context, cfg *config.Config, st *store.SQLiteStore) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if !cfg.Store.Enabled {
		return fmt.Errorf("history needs the store (store.enabled)")
	}
	st, err := store.Open(config.ExpandPath(cfg.Store.DBPath), logger)
	if err != nil {
		return err
	}
	defer st.Close()
	return fn(context.Background(), cfg, st)
}
