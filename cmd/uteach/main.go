package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/uteach-dev/uteach/internal/api"
	"github.com/uteach-dev/uteach/internal/auth"
	"github.com/uteach-dev/uteach/internal/bridge"
	appI18n "github.com/uteach-dev/uteach/internal/i18n"
	"github.com/uteach-dev/uteach/internal/session"
	"github.com/uteach-dev/uteach/internal/store"
	"github.com/uteach-dev/uteach/internal/transcribe"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "uteach",
		Short: "Learning-by-teaching session controller",
	}

	serve := serveCmd()
	root.AddCommand(serve, historyCmd(), clearHistoryCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE

	// Register serve flags on root so bare `uteach --addr ...` still works.
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the local session bridge",
		RunE:  runServe,
	}
	f := cmd.Flags()
	f.StringP("addr", "a", "127.0.0.1:8990", "bridge listen address")
	addCommonFlags(f)
	f.String("recognizer-url", "", "Speech recognizer websocket URL (empty disables voice input)")
	f.String("voice-lang", "ja-JP", "Speech recognition language tag")
	return cmd
}

func historyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print the merged session history as JSON",
		RunE:  runHistory,
	}
	addCommonFlags(cmd.Flags())
	return cmd
}

func clearHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clear-history",
		Short: "Delete all sessions remotely and locally",
		RunE:  runClearHistory,
	}
	addCommonFlags(cmd.Flags())
	return cmd
}

func addCommonFlags(f *pflag.FlagSet) {
	f.String("db", "uteach.db", "SQLite database path")
	f.String("api-url", "http://localhost:8000", "Learning backend base URL")
	f.String("token-file", "", "Path to a bearer token file (empty = anonymous)")
	f.String("user-id", "", "Local namespace id (empty = persisted anonymous id)")
	f.StringP("lang", "l", appI18n.DefaultLang, "UI language (en, ja)")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
}

func setupLogging(v *viper.Viper) {
	var logLevel slog.Level
	switch strings.ToLower(v.GetString("log-level")) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	var logHandler slog.Handler
	switch strings.ToLower(v.GetString("log-format")) {
	case "json":
		logHandler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	default:
		logHandler = slog.NewTextHandler(os.Stderr, handlerOpts)
	}
	slog.SetDefault(slog.New(logHandler))
}

// viperForCmd binds a command's flags and environment to a fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("UTEACH")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("uteach")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/uteach")
	v.AddConfigPath("/etc/uteach")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Info("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

// buildController assembles the store, backend client and controller from
// config. The caller owns closing the returned store.
func buildController(v *viper.Viper) (*session.Controller, *store.Store, error) {
	db, err := store.New(v.GetString("db"))
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}

	var tokens auth.TokenSource = auth.StaticSource("")
	if path := v.GetString("token-file"); path != "" {
		tokens = auth.NewCached(auth.FileSource(path))
	}
	client := api.New(v.GetString("api-url"), tokens)

	userID := v.GetString("user-id")
	if userID == "" {
		userID, err = db.AnonymousUserID()
		if err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("anonymous user id: %w", err)
		}
	}

	return session.New(db, client, userID), db, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	v := viperForCmd(cmd)
	setupLogging(v)

	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	ctrl, db, err := buildController(v)
	if err != nil {
		return err
	}
	defer db.Close()

	var voice *bridge.Voice
	if recURL := v.GetString("recognizer-url"); recURL != "" {
		provider := transcribe.NewWSProvider(transcribe.WSConfig{URL: recURL})
		voice, err = bridge.NewVoice(provider, ctrl, transcribe.Options{
			Config: transcribe.StreamConfig{
				Language:       v.GetString("voice-lang"),
				InterimResults: true,
			},
		})
		if err != nil {
			return fmt.Errorf("voice input: %w", err)
		}
		defer voice.Stop()
		slog.Info("voice input enabled", "recognizer_url", recURL, "lang", v.GetString("voice-lang"))
	}

	h := bridge.New(ctrl, voice)

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(appI18n.Middleware(lang))
	h.Routes(r)

	addr := v.GetString("addr")
	slog.Info("starting bridge",
		"addr", addr,
		"api_url", v.GetString("api-url"),
		"lang", lang,
		"voice", voice != nil,
	)
	return http.ListenAndServe(addr, r)
}

func runHistory(cmd *cobra.Command, _ []string) error {
	v := viperForCmd(cmd)
	setupLogging(v)

	ctrl, db, err := buildController(v)
	if err != nil {
		return err
	}
	defer db.Close()

	summaries, err := ctrl.History(context.Background())
	if err != nil {
		if len(summaries) == 0 {
			return fmt.Errorf("fetch history: %w", err)
		}
		slog.Warn("showing local history only", "error", err)
	}

	data, err := json.MarshalIndent(summaries, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

func runClearHistory(cmd *cobra.Command, _ []string) error {
	v := viperForCmd(cmd)
	setupLogging(v)

	ctrl, db, err := buildController(v)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := ctrl.ClearHistory(context.Background()); err != nil {
		return fmt.Errorf("clear history: %w", err)
	}
	slog.Info("history cleared")
	return nil
}
