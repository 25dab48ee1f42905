package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/knoguchi/uigen/internal/render"
	"github.com/knoguchi/uigen/internal/service"
	"github.com/knoguchi/uigen/internal/settings"
	"github.com/spf13/cobra"
)

var (
	genFramework   string
	genMaxTokens   int
	genTemperature float64
	genSave        bool
	genOutput      string
)

var generateCmd = &cobra.Command{
	Use:   "generate [prompt]",
	Short: "generate code once and print it",
	Long: `Generate UI code for a single prompt and print it to the terminal.
The prompt is read from the arguments, or from stdin when none are given.`,
	RunE: runGenerate,
}

func init() {
	def := settings.Default()
	generateCmd.Flags().StringVarP(&genFramework, "framework", "f", string(def.Framework), "target framework (React or Flutter)")
	generateCmd.Flags().IntVar(&genMaxTokens, "max-tokens", def.MaxTokens,
		fmt.Sprintf("maximum new tokens (%d-%d)", settings.MinMaxTokens, settings.MaxMaxTokens))
	generateCmd.Flags().Float64Var(&genTemperature, "temperature", def.Temperature,
		fmt.Sprintf("sampling temperature (%.1f-%.1f)", settings.MinTemperature, settings.MaxTemperature))
	generateCmd.Flags().BoolVar(&genSave, "save", false, "also write the code to ui_code.js or ui_code.dart")
	generateCmd.Flags().StringVarP(&genOutput, "output", "o", "", "write the code to this file instead of the default name")
}

func runGenerate(cmd *cobra.Command, args []string) error {
	framework, err := settings.ParseFramework(genFramework)
	if err != nil {
		return err
	}
	set := settings.Settings{
		Framework:   framework,
		MaxTokens:   genMaxTokens,
		Temperature: genTemperature,
	}
	if clamped := set.Clamp(); clamped != set {
		color.New(color.FgYellow).Fprintf(os.Stderr, "settings clamped to max-tokens=%d temperature=%g\n",
			clamped.MaxTokens, clamped.Temperature)
		set = clamped
	}

	prompt := strings.Join(args, " ")
	if len(args) == 0 {
		b, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return fmt.Errorf("reading prompt from stdin: %w", err)
		}
		prompt = string(b)
	}

	ctx := cmd.Context()
	cfg, err := setup(ctx)
	if err != nil {
		return err
	}

	codegen := service.NewCodegenService(newLoader(cfg))

	fmt.Fprintln(os.Stderr, "Generating code...")
	result, err := codegen.Generate(ctx, prompt, set)
	if errors.Is(err, service.ErrEmptyPrompt) {
		color.New(color.FgYellow).Fprintln(os.Stderr, "Please enter a prompt first!")
		return nil
	}
	if err != nil {
		return err
	}

	out, err := render.Terminal(result.Code, result.Language, 100, !color.NoColor)
	if err != nil {
		return err
	}
	fmt.Fprint(cmd.OutOrStdout(), out)

	path := genOutput
	if path == "" && genSave {
		path = result.Filename
	}
	if path != "" {
		if err := os.WriteFile(path, []byte(result.Code), 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", path, err)
		}
		color.New(color.FgGreen).Fprintf(os.Stderr, "Saved %s code to %s\n", result.Settings.Framework, path)
	}
	return nil
}
