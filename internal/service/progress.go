package service

// ProgressFunc receives pipeline milestones. It is invoked synchronously
// and must not block; a nil callback disables reporting.
type ProgressFunc func(step string, stepIndex int, percentage int)

// Export pipeline steps, in order.
const (
	StepInit         = "init"
	StepExportData   = "export_data"
	StepCollectFiles = "collect_files"
	StepChecksum     = "checksum"
	StepPack         = "pack"
	StepDone         = "done"
)

// Restore pipeline steps, in order.
const (
	StepUnpack       = "unpack"
	StepValidate     = "validate"
	StepImport       = "import"
	StepRestoreFiles = "restore_files"
)

func emitProgress(progress ProgressFunc, step string, stepIndex, percentage int) {
	if progress == nil {
		return
	}
	progress(step, stepIndex, percentage)
}
