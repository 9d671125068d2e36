package diagfmt

// PathMode specifies how file paths are displayed.
type PathMode uint8

const (
	// PathModeAuto prints paths relative to the working directory when
	// they are below it, absolute otherwise.
	PathModeAuto PathMode = iota
	// PathModeAbsolute always uses absolute paths.
	PathModeAbsolute
	// PathModeRelative uses the project-relative locator.
	PathModeRelative
	PathModeBasename
)

// ParsePathMode accepts auto, absolute, relative and basename.
func ParsePathMode(s string) (PathMode, bool) {
	switch s {
	case "", "auto":
		return PathModeAuto, true
	case "absolute":
		return PathModeAbsolute, true
	case "relative":
		return PathModeRelative, true
	case "basename":
		return PathModeBasename, true
	}
	return PathModeAuto, false
}

// PrettyOpts configures pretty-printing of diagnostics.
type PrettyOpts struct {
	Color    bool
	PathMode PathMode
	// BaseDir anchors PathModeAuto; empty means the working directory.
	BaseDir string
	// Context prints the offending source line with an underline.
	Context bool
	// ShowTasks includes task markers.
	ShowTasks bool
	Width     int // максимальная ширина строки, 0 - не ограничено
	// ReadFile loads sources for context lines; os.ReadFile when nil.
	ReadFile func(path string) ([]byte, error)
}

// JSONOpts configures JSON and YAML output of diagnostics.
type JSONOpts struct {
	PathMode         PathMode
	BaseDir          string
	IncludePositions bool // добавить line/col
	IncludeTasks     bool
	Max              int // обрезка вывода
	ReadFile         func(path string) ([]byte, error)
}

// SarifRunMeta provides metadata for SARIF output.
type SarifRunMeta struct {
	ToolName       string
	ToolVersion    string
	InvocationArgs []string
}
