package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/incometax/taxbot/internal/logger"
	"github.com/incometax/taxbot/plugin/ingest"
	"github.com/incometax/taxbot/plugin/storage/s3"
	"github.com/incometax/taxbot/server"
	"github.com/incometax/taxbot/server/router/mcp"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			s := server.NewServer(instanceProfile, a.store, a.assistant, a.index, logger.Component(rootLogger, "server"))
			printGreetings(cmd.OutOrStdout())
			return s.Start(ctx)
		},
	}
	flags := cmd.Flags()
	flags.String("addr", "", "address of the HTTP server")
	flags.Int("port", 8081, "port of the HTTP server")
	flags.Float64("rate-limit", 0, "chat requests per second allowed per session, 0 disables limiting")
	flags.Int("rate-burst", 1, "chat request burst allowed per session")
	bindFlags(cmd, "addr", "port", "rate-limit", "rate-burst")
	return cmd
}

func newChatCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat in the terminal",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()
			return runChat(ctx, a, instanceProfile.SessionID, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	return cmd
}

func runChat(ctx context.Context, a *app, sessionID string, in io.Reader, out io.Writer) error {
	fmt.Fprintln(out, "소득세 챗봇 - 소득세에 관련된 모든 것을 답해드립니다!")
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "\n> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		question := strings.TrimSpace(scanner.Text())
		if question == "" {
			continue
		}
		stream, err := a.assistant.Ask(ctx, sessionID, question)
		if err != nil {
			fmt.Fprintf(out, "오류: %v\n", err)
			if ctx.Err() != nil {
				return nil
			}
			continue
		}
		for chunk := range stream.Chunks() {
			fmt.Fprint(out, chunk.Text)
		}
		fmt.Fprintln(out)
		if err := stream.Err(); err != nil {
			fmt.Fprintf(out, "오류: %v\n", err)
			if ctx.Err() != nil {
				return nil
			}
		}
	}
}

func newIngestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Split markdown law text and load it into the index",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			source, err := ingestSource(ctx, viper.GetString("dir"))
			if err != nil {
				return err
			}
			index, err := newIndex()
			if err != nil {
				return err
			}
			ingester := ingest.New(index, viper.GetInt("chunk-size"), viper.GetInt("chunk-overlap"), logger.Component(rootLogger, "ingest"))
			stats, err := ingester.Run(ctx, source)
			if err != nil {
				return err
			}
			rootLogger.Info().Int("files", stats.Files).Int("chunks", stats.Chunks).Int("indexed", index.Count()).Msg("ingest completed")
			return nil
		},
	}
	flags := cmd.Flags()
	flags.String("dir", "", "local directory of markdown files")
	flags.Int("chunk-size", ingest.DefaultChunkSize, "maximum characters per passage")
	flags.Int("chunk-overlap", ingest.DefaultChunkOverlap, "characters shared by adjacent passages")
	flags.String("s3-endpoint", "", "S3 compatible endpoint")
	flags.String("s3-region", "", "S3 region")
	flags.String("s3-bucket", "", "bucket holding the markdown files, used when --dir is empty")
	flags.String("s3-prefix", "", "key prefix of the markdown files")
	flags.String("s3-access-key", "", "S3 access key")
	flags.String("s3-secret-key", "", "S3 secret key")
	bindFlags(cmd, "dir", "chunk-size", "chunk-overlap", "s3-endpoint", "s3-region", "s3-bucket", "s3-prefix", "s3-access-key", "s3-secret-key")
	return cmd
}

func ingestSource(ctx context.Context, dir string) (ingest.Source, error) {
	if dir != "" {
		return ingest.DirSource{Dir: dir}, nil
	}
	if instanceProfile.S3Bucket == "" {
		return nil, errors.New("either --dir or --s3-bucket is required")
	}
	client, err := s3.NewClient(ctx, &s3.Config{
		Endpoint:  instanceProfile.S3Endpoint,
		Region:    instanceProfile.S3Region,
		Bucket:    instanceProfile.S3Bucket,
		AccessKey: instanceProfile.S3AccessKey,
		SecretKey: instanceProfile.S3SecretKey,
	})
	if err != nil {
		return nil, err
	}
	return ingest.BucketSource{Client: client, Prefix: instanceProfile.S3Prefix}, nil
}

func newMCPCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve the assistant as MCP tools over stdio",
		RunE: func(_ *cobra.Command, _ []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()
			service := mcp.NewService(a.assistant, instanceProfile.SessionID, logger.Component(rootLogger, "mcp"))
			return service.ServeStdio(currentVersion())
		},
	}
	return cmd
}

func bindFlags(cmd *cobra.Command, names ...string) {
	for _, name := range names {
		if err := viper.BindPFlag(name, cmd.Flags().Lookup(name)); err != nil {
			panic(err)
		}
	}
}

func printGreetings(out io.Writer) {
	fmt.Fprintf(out, "taxbot %s started successfully!\n", currentVersion())
	if instanceProfile.IsDev() {
		fmt.Fprintf(out, "Development mode is enabled\n")
		fmt.Fprintf(out, "Data directory: %s\n", instanceProfile.Data)
	}
	fmt.Fprintf(out, "Listening on %s:%d\n", instanceProfile.Addr, instanceProfile.Port)
	fmt.Fprintf(out, "Session store: %s\n", instanceProfile.Driver)
}
