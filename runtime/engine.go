package runtime

// FlowLoader reads flow definitions from files of the extensions it handles.
type FlowLoader interface {
	Extensions() []string
	Load(filePath string) (*Flow, error)
}
