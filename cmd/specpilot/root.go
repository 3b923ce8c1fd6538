package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"specpilot/internal/app/di"
	"specpilot/internal/config"
	"specpilot/internal/shared/utils"
)

var (
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	cyan   = color.New(color.FgCyan).SprintFunc()
	gray   = color.New(color.FgHiBlack).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
)

// isTTY reports whether both stdin and stdout are terminals.
func isTTY() bool {
	return term.IsTerminal(int(os.Stdin.Fd())) && term.IsTerminal(int(os.Stdout.Fd()))
}

// CLI holds state shared by every subcommand.
type CLI struct {
	configPath string
	out        io.Writer
	errOut     io.Writer

	// loadOptions are appended to the config loader's options; tests use
	// them to isolate the environment.
	loadOptions []config.Option
	// containerOptions are passed to di.BuildContainer.
	containerOptions []di.Option
}

func newRootCommand(out, errOut io.Writer) *cobra.Command {
	cli := &CLI{out: out, errOut: errOut}
	return cli.rootCommand()
}

func (c *CLI) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "specpilot",
		Short: "Turn a rough product idea into a structured specification",
		Long: fmt.Sprintf(`%s

specpilot walks a product idea through requirement collection, risk analysis,
tech stack, MVP boundary and diagram design, then writes the final spec.

%s
  specpilot chat                      # Interactive session
  specpilot chat --session <id>       # Resume a stored session
  specpilot serve                     # JSON API on :8080
  specpilot mcp                       # MCP server over stdio
  specpilot cache inspect <snapshot>  # List cached responses
  specpilot logs <session-id>         # Log lines for one session`,
			bold("specpilot "+appVersion()),
			bold("EXAMPLES:")),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(c.out)
	root.SetErr(c.errOut)
	root.PersistentFlags().StringVarP(&c.configPath, "config", "c", "", "Path to a YAML config file")

	root.AddCommand(
		c.chatCommand(),
		c.serveCommand(),
		c.mcpCommand(),
		c.cacheCommand(),
		c.logsCommand(),
		c.versionCommand(),
	)
	return root
}

// loadConfig resolves configuration and applies the logging section before
// any component logger opens its file.
func (c *CLI) loadConfig() (config.Config, error) {
	opts := []config.Option{}
	if c.configPath != "" {
		opts = append(opts, config.WithConfigPath(c.configPath))
	}
	opts = append(opts, c.loadOptions...)
	cfg, meta, err := config.Load(opts...)
	if err != nil {
		return config.Config{}, err
	}
	applyLogging(cfg.Logging)
	if file := meta.ConfigFile(); file != "" {
		utils.GetLogger().Info("Loaded config from %s", file)
	}
	return cfg, nil
}

func applyLogging(cfg config.LoggingConfig) {
	if dir := strings.TrimSpace(cfg.Dir); dir != "" {
		_ = os.Setenv("SPECPILOT_LOG_DIR", dir)
	}
	level, ok := utils.ParseLevel(cfg.Level)
	if !ok {
		return
	}
	for _, category := range []utils.LogCategory{utils.LogCategoryService, utils.LogCategoryLLM, utils.LogCategoryLatency} {
		utils.SetLevel(category, level)
	}
}

func (c *CLI) buildContainer() (*di.Container, error) {
	cfg, err := c.loadConfig()
	if err != nil {
		return nil, err
	}
	container, err := di.BuildContainer(cfg, c.containerOptions...)
	if err != nil {
		return nil, fmt.Errorf("initialize: %w", err)
	}
	return container, nil
}
