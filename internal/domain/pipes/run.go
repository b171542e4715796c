package pipes

// RunRequest untuk Runner
type RunRequest struct {
	Pipe      Pipe
	Workspace string // checkout path mounted into the tool container
	Image     string // image reference for scan/build/push pipes
	Chart     string // chart directory for helm-lint
	Tag       string // tag override for the docker pipe
	Push      bool   // docker pipe: push after build
}

// RunResult hasil dari Runner
type RunResult struct {
	Counts            SeverityCounts
	LocalArtifactPath string
	RawFormat         string
	ExitCode          int
	DurationMS        int64
}
