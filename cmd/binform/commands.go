package main

import (
	"bytes"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/danmuck/binform/internal/config"
	"github.com/danmuck/binform/internal/tree"
	"github.com/danmuck/binform/internal/treefile"
	"github.com/danmuck/binform/internal/validate"
)

func newDecomposeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "decompose <file> <grammar>",
		Short: "Decompose a file into a pattern tree",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := engineFromCmd(cmd)
			if err != nil {
				return err
			}
			g, err := e.Grammar(args[1])
			if err != nil {
				return withCode(exitGrammar, err)
			}
			buf, err := e.ReadFile(args[0])
			if err != nil {
				return err
			}
			t, err := e.Decompose(g, buf)
			if err != nil {
				return withCode(exitParse, err)
			}

			if out, _ := cmd.Flags().GetString("out"); out != "" {
				c := e.Config().TreeCompression
				if cmd.Flags().Changed("compress") {
					name, _ := cmd.Flags().GetString("compress")
					if c, err = treefile.ParseCompression(name); err != nil {
						return err
					}
				}
				if err := treefile.WriteFile(out, treefile.New(t, buf), c); err != nil {
					return err
				}
				log.Info().Str("file", args[0]).Str("grammar", g.Name()).Str("tree", out).Msg("tree written")
			}

			switch format, _ := cmd.Flags().GetString("format"); format {
			case "text":
				return tree.WriteText(cmd.OutOrStdout(), t)
			case "yaml":
				return tree.WriteYAML(cmd.OutOrStdout(), t)
			case "none":
				return nil
			default:
				return fmt.Errorf("unknown format %q (text|yaml|none)", format)
			}
		},
	}
	cmd.Flags().String("format", "text", "output format: text, yaml, or none")
	cmd.Flags().String("out", "", "write the tree to this file")
	cmd.Flags().String("compress", "", "tree file compression: none, zstd, or lz4 (default from config)")
	return cmd
}

func newReconstructCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reconstruct <tree-file>",
		Short: "Rebuild the byte stream from a tree file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := engineFromCmd(cmd)
			if err != nil {
				return err
			}
			f, err := treefile.ReadFile(args[0])
			if err != nil {
				return err
			}
			t := f.Tree()
			edited := t.Edited()
			out, err := e.Reconstruct(t)
			if err != nil {
				return withCode(exitParse, err)
			}
			if !edited {
				if err := f.Verify(out); err != nil {
					return withCode(exitParse, err)
				}
			}

			target, _ := cmd.Flags().GetString("output")
			if target == "" {
				_, err = cmd.OutOrStdout().Write(out)
				return err
			}
			if err := os.WriteFile(target, out, 0o644); err != nil {
				return err
			}
			log.Info().Str("tree", args[0]).Str("output", target).Int("bytes", len(out)).Msg("reconstructed")
			return nil
		},
	}
	cmd.Flags().StringP("output", "o", "", "output file (default: stdout)")
	return cmd
}

func newCompareCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "compare <expected> <actual>",
		Short: "Report the first differing byte of two files",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			expected, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			actual, err := os.ReadFile(args[1])
			if err != nil {
				return err
			}
			from, _ := cmd.Flags().GetInt("from")
			if err := validate.CompareFrom(expected, actual, from); err != nil {
				return withCode(exitFailure, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "identical (%d bytes)\n", len(expected))
			return nil
		},
	}
	cmd.Flags().Int("from", 0, "start comparing at this offset")
	return cmd
}

func newCertifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "certify <grammar> <files...>",
		Short: "Check that each file round-trips through the grammar unchanged",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := engineFromCmd(cmd)
			if err != nil {
				return err
			}
			g, err := e.Grammar(args[0])
			if err != nil {
				return withCode(exitGrammar, err)
			}
			reports, err := e.Batch(cmd.Context(), g, args[1:])
			if err != nil {
				return err
			}
			failed := 0
			w := cmd.OutOrStdout()
			for _, r := range reports {
				if r.Err != nil {
					failed++
					fmt.Fprintf(w, "FAIL %s: %v\n", r.Path, r.Err)
					continue
				}
				fmt.Fprintf(w, "ok   %s %d bytes %d nodes blake3:%s\n", r.Path, r.Size, r.Nodes, r.Digest)
			}
			if failed > 0 {
				return withCode(exitParse, fmt.Errorf("%d of %d files failed certification", failed, len(reports)))
			}
			return nil
		},
	}
}

func newGrammarsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "grammars",
		Short: "List available grammars",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := engineFromCmd(cmd)
			if err != nil {
				return err
			}
			entries, err := e.Grammars()
			if err != nil {
				return err
			}
			var b bytes.Buffer
			for _, entry := range entries {
				fmt.Fprintf(&b, "%-12s %s\n", entry.Name, entry.Source)
			}
			_, err = cmd.OutOrStdout().Write(b.Bytes())
			return err
		},
	}
}

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the engine config file",
	}
	cmd.AddCommand(newConfigInitCmd(), newConfigValidateCmd())
	return cmd
}

func newConfigInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write a config template",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.DefaultPath
			if len(args) == 1 {
				path = args[0]
			}
			force, _ := cmd.Flags().GetBool("force")
			if err := config.WriteTemplate(path, force); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().Bool("force", false, "overwrite an existing file")
	return cmd
}

func newConfigValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [path]",
		Short: "Validate a config file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.DefaultPath
			if len(args) == 1 {
				path = args[0]
			}
			if _, err := config.Load(path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "valid %s\n", path)
			return nil
		},
	}
}
