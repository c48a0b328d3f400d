package contracts

import "github.com/julienschmidt/httprouter"

// Handler is an HTTP surface that mounts its own routes. The application
// composes all of them on one router.
type Handler interface {
	RegisterRoutes(*httprouter.Router)
}
