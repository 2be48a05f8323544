package gateway

// Response headers the gateway attaches to every proxied response,
// mirroring the receipt-header convention the CLI proxy uses but
// carrying integrity-pipeline semantics instead of governance receipts.
const (
	// HeaderVerdict carries the checkpoint verdict, or one of the
	// pipeline-state sentinels: disabled, skipped, pending, error.
	HeaderVerdict = "X-AIP-Verdict"
	// HeaderAction carries the recommended action for the verdict.
	HeaderAction = "X-AIP-Action"
	// HeaderProceed is "true"/"false": whether the pipeline would have
	// allowed the turn to proceed, independent of enforcement mode.
	HeaderProceed = "X-AIP-Proceed"
	// HeaderCheckpointID identifies the checkpoint minted for this
	// turn, when one was produced.
	HeaderCheckpointID = "X-AIP-Checkpoint-ID"
	// HeaderCertificateID identifies the attestation certificate, when
	// attestation is enabled and succeeded.
	HeaderCertificateID = "X-AIP-Certificate-ID"
	// HeaderQuotaWarn is set to "true" when the quota decision was a
	// warn outcome the gateway let through.
	HeaderQuotaWarn = "X-AIP-Quota-Warning"
)

// Verdict header values that are not a types.Verdict.
const (
	VerdictDisabled = "disabled"
	VerdictSkipped  = "skipped"
	VerdictPending  = "pending"
	VerdictError    = "error"
)

// cfAIGMetadataHeader and cfAIGAuthorizationHeader are the AI Gateway
// passthrough headers injected on the outbound upstream request, when
// configured, so a Cloudflare AI Gateway fronting the real upstream
// can attribute spend without the gateway itself talking to its API.
const (
	cfAIGMetadataHeader      = "cf-aig-metadata"
	cfAIGAuthorizationHeader = "cf-aig-authorization"
)
