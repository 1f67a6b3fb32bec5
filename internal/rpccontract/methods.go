package rpccontract

const (
	ServiceName = "evalboard.v1.EvalBoard"

	TokenHeader     = "x-evalboard-token"
	RequestIDHeader = "x-request-id"
)

const (
	MethodGetHealth      = "/" + ServiceName + "/GetHealth"
	MethodGetSummary     = "/" + ServiceName + "/GetSummary"
	MethodListDatasets   = "/" + ServiceName + "/ListDatasets"
	MethodGetEvalData    = "/" + ServiceName + "/GetEvalData"
	MethodGetSeries      = "/" + ServiceName + "/GetSeries"
	MethodListEvalModels = "/" + ServiceName + "/ListEvalModels"
	MethodSetEvalModels  = "/" + ServiceName + "/SetEvalModels"
	MethodRecordResult   = "/" + ServiceName + "/RecordResult"
)

// PublicMethods skip authentication entirely.
var PublicMethods = map[string]struct{}{
	MethodGetHealth: {},
}

// WriteMethods need a role that may change evaluation state.
var WriteMethods = map[string]struct{}{
	MethodSetEvalModels: {},
	MethodRecordResult:  {},
}
