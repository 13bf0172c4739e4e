package models

// Key prefixes distinguish production keys from test keys
const (
	KeyPrefixLive = "live_"
	KeyPrefixTest = "test_"
)

// ThrottleAction names an authentication endpoint with its own attempt budget
type ThrottleAction string

const (
	ThrottleLogin         ThrottleAction = "login"
	ThrottleSignup        ThrottleAction = "signup"
	ThrottlePasswordReset ThrottleAction = "password_reset"
)

// TTS engines a memo can be synthesised with
const (
	EngineSimulation = "simulation"
	EngineEdge       = "edge"
	EngineElevenLabs = "elevenlabs"
)

// AuthKind records how a request was authenticated
type AuthKind string

const (
	AuthKindAPIKey  AuthKind = "api_key"
	AuthKindSession AuthKind = "session"
)
