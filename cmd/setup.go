package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/fatih/color"
)

// serverName is the key repoctx registers under in client configs.
const serverName = "repoctx"

// SetupCmd configures MCP for various AI clients.
type SetupCmd struct {
	Qwen   bool   `help:"Configure for Qwen CLI"`
	Claude bool   `help:"Configure for Claude Code"`
	Cursor bool   `help:"Configure for Cursor"`
	Local  bool   `help:"Write the project-local configuration (default)"`
	Global bool   `help:"Write the user-wide configuration"`
	Watch  bool   `default:"true" negatable:"" help:"Keep the index current while the server runs"`
	Format string `help:"Output format when no client is selected (json|text)" enum:"json,text" default:"json"`
	Dir    string `help:"Directory for local configuration files (default: the repository root)"`
}

// client describes where an MCP client keeps its configuration.
type client struct {
	name   string
	local  string // relative to the project root
	global string // relative to the home directory
}

var (
	clientQwen   = client{name: "Qwen", local: ".qwen/settings.json", global: ".qwen/settings.json"}
	clientClaude = client{name: "Claude", local: ".mcp.json", global: ".claude.json"}
	clientCursor = client{name: "Cursor", local: ".cursor/mcp.json", global: ".cursor/mcp.json"}
)

// Run executes the setup command.
func (c *SetupCmd) Run(g *Globals) error {
	if c.Format != "json" && c.Format != "text" {
		return fmt.Errorf("invalid format: %s (must be json or text)", c.Format)
	}
	out := g.stdout()
	entry := c.serverEntry()

	var clients []client
	if c.Qwen {
		clients = append(clients, clientQwen)
	}
	if c.Claude {
		clients = append(clients, clientClaude)
	}
	if c.Cursor {
		clients = append(clients, clientCursor)
	}
	if len(clients) == 0 {
		cfg := map[string]any{"mcpServers": map[string]any{serverName: entry}}
		if c.Format == "json" {
			return writeJSON(out, cfg)
		}
		fmt.Fprintln(out, "# Add this server to your MCP client configuration:")
		fmt.Fprintln(out)
		fmt.Fprintf(out, "name:    %s\n", serverName)
		fmt.Fprintf(out, "command: %s\n", entry["command"])
		fmt.Fprintf(out, "args:    %s\n", toJSON(entry["args"]))
		return nil
	}

	if !c.Local && !c.Global {
		c.Local = true
	}
	localDir := c.Dir
	if localDir == "" {
		localDir = g.Repo
	}
	var homeDir string
	if c.Global {
		var err error
		if homeDir, err = os.UserHomeDir(); err != nil {
			return fmt.Errorf("finding home directory: %w", err)
		}
	}

	green := color.New(color.FgGreen)
	for _, cl := range clients {
		if c.Global {
			path := filepath.Join(homeDir, filepath.FromSlash(cl.global))
			if err := mergeServer(path, entry); err != nil {
				return err
			}
			green.Fprintf(out, "✓ Added %s to global %s MCP config at %s\n", serverName, cl.name, path)
		}
		if c.Local {
			path := filepath.Join(localDir, filepath.FromSlash(cl.local))
			if err := mergeServer(path, entry); err != nil {
				return err
			}
			green.Fprintf(out, "✓ Added %s to local %s MCP config at %s\n", serverName, cl.name, path)
		}
	}
	return nil
}

func (c *SetupCmd) serverEntry() map[string]any {
	args := []string{"mcp"}
	if c.Watch {
		args = append(args, "--watch")
	}
	return map[string]any{
		"command": serverName,
		"args":    args,
	}
}

// mergeServer adds entry under mcpServers in the JSON file at path,
// keeping everything else the file holds.
func mergeServer(path string, entry map[string]any) error {
	doc := map[string]any{}
	content, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return fmt.Errorf("reading %s: %w", path, err)
	case len(content) > 0:
		if err := json.Unmarshal(content, &doc); err != nil {
			return fmt.Errorf("parsing %s: %w", path, err)
		}
	}

	servers, ok := doc["mcpServers"].(map[string]any)
	if !ok {
		servers = map[string]any{}
	}
	servers[serverName] = entry
	doc["mcpServers"] = servers

	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling JSON: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}
	if err := os.WriteFile(path, append(out, '\n'), 0o644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

func toJSON(v any) string {
	b, _ := json.Marshal(v)
	return string(b)
}
