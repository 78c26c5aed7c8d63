package core

// Input is one resolved input. Digest stands for the content: the sha256 of
// the file bytes, or the upstream fingerprint when another task produced it.
type Input struct {
	Path   string
	Digest string
}

// InputSet is the resolved inputs of a task, sorted by Path.
type InputSet struct {
	Inputs []Input
}

// Upstream maps an input path, or "task:<name>" for an After dependency, to
// the fingerprint of the task that produced it in the current run.
type Upstream map[string]Fingerprint

// TaskRef is the Upstream key of an After dependency.
func TaskRef(name string) string { return "task:" + name }
