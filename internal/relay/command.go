// Package relay exposes the bridge to an external controller process:
// commands in as line-delimited JSON on stdin, events out as line-delimited
// JSON on stdout.
package relay

import (
	"encoding/json"
	"fmt"
)

// Command is one decoded controller instruction. The set of variants is
// closed; Decode rejects anything else.
type Command interface {
	isCommand()
}

// StartCommand starts a conversation. Mode selects the video source:
// "camera", "screen", or "none" (the default).
type StartCommand struct {
	Mode string
}

// StopCommand ends the running conversation.
type StopCommand struct{}

// MessageCommand submits one user turn. An attached image is sent ahead of
// the text as a realtime media payload.
type MessageCommand struct {
	Text      string
	ImageMIME string
	Image     []byte
}

// InterruptCommand discards queued, unplayed audio.
type InterruptCommand struct{}

// StartTranscriptionCommand begins buffering model text output.
type StartTranscriptionCommand struct{}

// StopTranscriptionCommand finishes buffering and emits the joined result.
type StopTranscriptionCommand struct{}

// AddServerCommand registers and connects a tool server.
type AddServerCommand struct {
	Name    string
	Command string
	Args    []string
	Env     map[string]string
}

// RemoveServerCommand disconnects and forgets a tool server.
type RemoveServerCommand struct {
	Name string
}

// GetToolsCommand requests the aggregate tool catalogue.
type GetToolsCommand struct{}

// GetServerToolsCommand requests one server's tool catalogue.
type GetServerToolsCommand struct {
	Server string
}

// ExecuteToolCommand invokes one tool on one server.
type ExecuteToolCommand struct {
	Server string
	Tool   string
	Params map[string]any
}

// GetStatusCommand requests tool server liveness: one server when Server is
// set, every server otherwise.
type GetStatusCommand struct {
	Server string
}

func (StartCommand) isCommand()              {}
func (StopCommand) isCommand()               {}
func (MessageCommand) isCommand()            {}
func (InterruptCommand) isCommand()          {}
func (StartTranscriptionCommand) isCommand() {}
func (StopTranscriptionCommand) isCommand()  {}
func (AddServerCommand) isCommand()          {}
func (RemoveServerCommand) isCommand()       {}
func (GetToolsCommand) isCommand()           {}
func (GetServerToolsCommand) isCommand()     {}
func (ExecuteToolCommand) isCommand()        {}
func (GetStatusCommand) isCommand()          {}

// startOptions is the nested options object of a start command.
type startOptions struct {
	Mode string `json:"mode"`
}

// rawImage is the image attachment of a message command.
type rawImage struct {
	MIMEType string `json:"mime_type"`
	Data     []byte `json:"data"`
}

// rawCommand is the superset wire shape of every command. The discriminator
// is the "command" key.
type rawCommand struct {
	Command string        `json:"command"`
	Options *startOptions `json:"options,omitempty"`
	Text    string        `json:"text,omitempty"`
	Image   *rawImage     `json:"image,omitempty"`

	ServerName    string            `json:"server_name,omitempty"`
	ServerCommand string            `json:"server_command,omitempty"`
	ServerArgs    []string          `json:"server_args,omitempty"`
	ServerEnv     map[string]string `json:"server_env,omitempty"`

	Server string         `json:"server,omitempty"`
	Tool   string         `json:"tool,omitempty"`
	Params map[string]any `json:"params,omitempty"`
}

// Decode parses and validates one command line. Missing required fields and
// unknown commands are decode errors; the caller reports them and keeps
// reading.
func Decode(line []byte) (Command, error) {
	var raw rawCommand
	if err := json.Unmarshal(line, &raw); err != nil {
		return nil, fmt.Errorf("relay: parse command: %w", err)
	}
	switch raw.Command {
	case "start":
		mode := "none"
		if raw.Options != nil && raw.Options.Mode != "" {
			mode = raw.Options.Mode
		}
		switch mode {
		case "camera", "screen", "none":
		default:
			return nil, fmt.Errorf("relay: start: unknown mode %q", mode)
		}
		return StartCommand{Mode: mode}, nil
	case "stop":
		return StopCommand{}, nil
	case "message":
		if raw.Image != nil && (raw.Image.MIMEType == "" || len(raw.Image.Data) == 0) {
			return nil, fmt.Errorf("relay: message: image requires mime_type and data")
		}
		if raw.Text == "" && raw.Image == nil {
			return nil, fmt.Errorf("relay: message: text or image is required")
		}
		cmd := MessageCommand{Text: raw.Text}
		if raw.Image != nil {
			cmd.ImageMIME = raw.Image.MIMEType
			cmd.Image = raw.Image.Data
		}
		return cmd, nil
	case "interrupt":
		return InterruptCommand{}, nil
	case "start_transcription":
		return StartTranscriptionCommand{}, nil
	case "stop_transcription":
		return StopTranscriptionCommand{}, nil
	case "mcp_add_server":
		if raw.ServerName == "" {
			return nil, fmt.Errorf("relay: mcp_add_server: server_name is required")
		}
		if raw.ServerCommand == "" {
			return nil, fmt.Errorf("relay: mcp_add_server: server_command is required")
		}
		return AddServerCommand{
			Name:    raw.ServerName,
			Command: raw.ServerCommand,
			Args:    raw.ServerArgs,
			Env:     raw.ServerEnv,
		}, nil
	case "mcp_remove_server":
		if raw.ServerName == "" {
			return nil, fmt.Errorf("relay: mcp_remove_server: server_name is required")
		}
		return RemoveServerCommand{Name: raw.ServerName}, nil
	case "mcp_get_tools":
		return GetToolsCommand{}, nil
	case "mcp_get_server_tools":
		if raw.ServerName == "" {
			return nil, fmt.Errorf("relay: mcp_get_server_tools: server_name is required")
		}
		return GetServerToolsCommand{Server: raw.ServerName}, nil
	case "mcp_execute_tool":
		if raw.Server == "" {
			return nil, fmt.Errorf("relay: mcp_execute_tool: server is required")
		}
		if raw.Tool == "" {
			return nil, fmt.Errorf("relay: mcp_execute_tool: tool is required")
		}
		return ExecuteToolCommand{Server: raw.Server, Tool: raw.Tool, Params: raw.Params}, nil
	case "mcp_get_status":
		return GetStatusCommand{Server: raw.ServerName}, nil
	case "":
		return nil, fmt.Errorf("relay: command is required")
	default:
		return nil, fmt.Errorf("relay: unknown command %q", raw.Command)
	}
}
