package errors

// ErrorTemplate defines a registered error type.
type ErrorTemplate struct {
	Category Category
	Message  string
	Detail   string
}

// Registered codes.
const (
	CodeModelExists        = "R001"
	CodeModelNotFound      = "R002"
	CodeAttributeNotFound  = "R003"
	CodeDuplicateQualifier = "R004"
	CodeAttributeBound     = "R005"

	CodeUnknownCommand   = "R020"
	CodeMissingCommandID = "R021"
	CodeMalformedPayload = "R022"
	CodePayloadTooLarge  = "R023"
	CodeNilCommand       = "R024"

	CodeNoConnection     = "R040"
	CodeAlreadyConnected = "R041"
	CodeConnectorClosed  = "R042"
	CodeCommandsLost     = "R043"

	CodeTransportFailed = "R060"
	CodeUnexpectedReply = "R061"

	CodeInvalidConfig  = "R080"
	CodeConfigNotFound = "R081"
	CodeConfigParse    = "R082"
)

// registry maps error codes to their templates.
var registry = map[string]ErrorTemplate{
	// ============================================
	// Model Store Errors (R001-R019)
	// ============================================

	CodeModelExists: {
		Category: CategoryModel,
		Message:  "Presentation model already known to the peer",
		Detail:   "A presentation model id must be unique within a model store.",
	},
	CodeModelNotFound: {
		Category: CategoryModel,
		Message:  "Presentation model not found",
		Detail:   "The referenced presentation model id is not registered in the model store.",
	},
	CodeAttributeNotFound: {
		Category: CategoryModel,
		Message:  "Attribute not found",
		Detail:   "The referenced attribute id is not registered in the model store.",
	},
	CodeDuplicateQualifier: {
		Category: CategoryModel,
		Message:  "Duplicate qualifier in presentation model",
		Detail:   "Two attributes of one presentation model may not register the same qualifier.",
	},
	CodeAttributeBound: {
		Category: CategoryModel,
		Message:  "Attribute already registered",
		Detail:   "An attribute belongs to exactly one presentation model and one model store.",
	},

	// ============================================
	// Protocol Errors (R020-R039)
	// ============================================

	CodeUnknownCommand: {
		Category: CategoryProtocol,
		Message:  "Unknown command type",
		Detail:   "The command type discriminator does not name a known command.",
	},
	CodeMissingCommandID: {
		Category: CategoryProtocol,
		Message:  "Missing command type",
		Detail:   "Every encoded command must carry an \"id\" type discriminator.",
	},
	CodeMalformedPayload: {
		Category: CategoryProtocol,
		Message:  "Malformed payload",
		Detail:   "The payload is not a JSON array of command objects.",
	},
	CodePayloadTooLarge: {
		Category: CategoryProtocol,
		Message:  "Payload too large",
		Detail:   "The payload exceeds the configured maximum size.",
	},
	CodeNilCommand: {
		Category: CategoryProtocol,
		Message:  "Nil command in command list",
	},

	// ============================================
	// Connector Errors (R040-R059)
	// ============================================

	CodeNoConnection: {
		Category: CategoryConnector,
		Message:  "No connection defined",
		Detail:   "A model mutation was synchronized before a connector was attached. This is a programming error.",
	},
	CodeAlreadyConnected: {
		Category: CategoryConnector,
		Message:  "Connector already connected",
	},
	CodeConnectorClosed: {
		Category: CategoryConnector,
		Message:  "Connector closed",
	},
	CodeCommandsLost: {
		Category: CategoryConnector,
		Message:  "Earlier commands were not acknowledged",
		Detail:   "A batch failed in transit, so completion callbacks cannot confirm delivery until the connector is reconnected.",
	},

	// ============================================
	// Transport Errors (R060-R079)
	// ============================================

	CodeTransportFailed: {
		Category: CategoryTransport,
		Message:  "Transport cycle failed",
		Detail:   "A request/response cycle could not be completed. The batch was not acknowledged.",
	},
	CodeUnexpectedReply: {
		Category: CategoryTransport,
		Message:  "Unexpected reply from server",
	},

	// ============================================
	// Config Errors (R080-R099)
	// ============================================

	CodeInvalidConfig: {
		Category: CategoryConfig,
		Message:  "Invalid configuration",
	},
	CodeConfigNotFound: {
		Category: CategoryConfig,
		Message:  "Configuration file not found",
		Detail:   "Run 'remoting init' to write a default remoting.json.",
	},
	CodeConfigParse: {
		Category: CategoryConfig,
		Message:  "Configuration could not be parsed",
	},
}

// GetAllCodes returns all registered error codes.
func GetAllCodes() []string {
	codes := make([]string, 0, len(registry))
	for code := range registry {
		codes = append(codes, code)
	}
	return codes
}

// GetTemplate returns the template for an error code.
func GetTemplate(code string) (ErrorTemplate, bool) {
	t, ok := registry[code]
	return t, ok
}
