package codingagents

// Kind identifies one of the supported coding-agent CLIs.
type Kind string

const (
	KindCodex  Kind = "codex"
	KindClaude Kind = "claude"
	KindCursor Kind = "cursor"
	KindGemini Kind = "gemini"
)

// All lists every supported agent kind, in a stable order used for
// deterministic PostCreateScript concatenation across presets.
var All = []Kind{KindCodex, KindClaude, KindCursor, KindGemini}

// syncPath is an extra host->container file to copy alongside a preset's
// main config directory, e.g. Claude Code's top-level ~/.claude.json.
type syncPath struct {
	host      string
	container string
}

// preset holds one agent's built-in defaults: where its config lives on the
// host and in the container, how to detect whether it's already installed,
// and how to install it if not.
type preset struct {
	kind                  Kind
	defaultHostConfigPath string
	defaultContainerPath  string
	extraSyncPaths        []syncPath
	binaryProbe           string
	defaultInstallCommand string
}

var presets = map[Kind]preset{
	KindCodex: {
		kind:                  KindCodex,
		defaultHostConfigPath: ".codex",
		defaultContainerPath:  ".codex",
		binaryProbe:           "codex",
		defaultInstallCommand: "npm install -g @openai/codex",
	},
	KindClaude: {
		kind:                  KindClaude,
		defaultHostConfigPath: ".claude",
		defaultContainerPath:  ".claude",
		extraSyncPaths:        []syncPath{{host: ".claude.json", container: ".claude.json"}},
		binaryProbe:           "claude",
		defaultInstallCommand: "npm install -g @anthropic-ai/claude-code",
	},
	KindCursor: {
		kind:                  KindCursor,
		defaultHostConfigPath: ".cursor",
		defaultContainerPath:  ".cursor",
		binaryProbe:           "cursor-agent",
		defaultInstallCommand: "npm install -g @cursor/agent",
	},
	KindGemini: {
		kind:                  KindGemini,
		defaultHostConfigPath: ".gemini",
		defaultContainerPath:  ".gemini",
		binaryProbe:           "gemini",
		defaultInstallCommand: "npm install -g @google/gemini-cli",
	},
}
