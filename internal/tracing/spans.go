package tracing

// Span names.
const (
	SpanExecute      = "formula.execute"
	SpanValidate     = "formula.validate"
	SpanCompileTest  = "compile.test"
	SpanCompileBuild = "compile.build"
	SpanStoreSave    = "store.save"
	SpanExternalRun  = "external.run"
)

// Span attribute keys.
const (
	AttrFormulaName   = "formula.name"
	AttrFormulaStatus = "formula.status"
	AttrInputRows     = "formula.input_rows"
	AttrOutputRows    = "formula.output_rows"

	AttrCompileSuccess     = "compile.success"
	AttrCompileReason      = "compile.reason"
	AttrCompileDiagnostics = "compile.diagnostics"
	AttrWorkspace          = "compile.workspace"

	AttrErrorMessage = "error.message"
)
