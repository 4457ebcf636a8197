package services

// Actor identifies the caller on whose behalf a mutation runs. It flows into
// audit entries written alongside the mutation.
type Actor struct {
	ID   string
	Type string
}

// Actor types, keyed by how the caller authenticated.
const (
	ActorTypeLocal = "local"
	ActorTypeToken = "token"
)

// AnonymousActor is the caller identity when the deployment runs without
// bearer-token auth.
var AnonymousActor = Actor{ID: "anonymous", Type: ActorTypeLocal}

// TokenActor is the caller identity for requests carrying a valid token.
var TokenActor = Actor{ID: "token_user", Type: ActorTypeToken}
