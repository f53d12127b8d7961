// Package elif is a modular web framework core: a type-keyed IoC
// container, module composition with import/export visibility, a
// controller route table and a middleware pipeline served over HTTP.
//
// # Quick Start
//
// Declare modules, provide services and mount a controller:
//
//	core := elif.NewModule("core")
//	elif.Provide(core, func(ctx context.Context, r elif.Resolver) (*Greeter, error) {
//	    return &Greeter{}, nil
//	}, elif.Exported())
//
//	app := elif.NewModule("app").Import(core).AsApp()
//	elif.ProvideController(app, "/", func(ctx context.Context, r elif.Resolver) (*HiController, error) {
//	    g, err := elif.Resolve[*Greeter](ctx, r)
//	    return &HiController{greeter: g}, err
//	}, func(rt *elif.Routes[*HiController]) {
//	    rt.Get("/hi", (*HiController).Hi)
//	}, elif.WithDependencies(elif.KeyOf[*Greeter]()))
//
//	os.Exit(elif.ExitCode(elif.New(app).Run(ctx)))
//
// # Providers
//
// Providers are functions that create an instance. They receive a context
// and a Resolver scoped to the module that owns the binding:
//
//	elif.Provide[T](m, provider)          // factory
//	elif.ProvideValue[T](m, value)        // existing value, singleton
//	elif.ProvideFunc[T](m, NewService)    // constructor, params are dependencies
//	elif.ProvideStruct[T](m)              // `inject` tagged fields
//	elif.Bind[Repo, *PostgresRepo](m)     // interface alias
//
// Declare what a factory resolves with WithDependencies so composition can
// report missing, invisible and cyclic dependencies before any request.
//
// # Lifetimes
//
// Singleton (default) instances live as long as the container, Scoped
// instances once per request scope and Transient instances once per
// resolve. A binding may not depend on a shorter lived one.
//
// # Modules
//
// Bindings are private to their module. Exported() or Module.Export makes
// them visible to every module importing the owner, directly or
// transitively. An Overridable binding may be replaced by a
// downstream module with Override().
//
// # Composition
//
// Compose walks the import graph, orders modules, registers bindings and
// routes and validates the result. Every problem found is reported in one
// COMPOSITION_FAILED error:
//
//	plan, err := elif.Compose(app)
//	plan.FprintRoutes(os.Stdout)
//	plan.FprintGraphDOT(os.Stdout)
//
// # Controllers
//
// Controllers are Scoped by default. Path placeholders are {name},
// {name:int}, {name:uint}, {name:uuid} or a trailing {*rest}, and each must
// be declared with Param:
//
//	rt.Get("/users/{id:uuid}", (*Users).Show, elif.Param("id", elif.ParamUUID))
//	rt.Post("/users", (*Users).Create, elif.BodyAs[CreateUser]())
//
// An action returns a *Response, nil for 204 or any value encoded as JSON.
// Returned *Error values pick the status and wire code of the error
// envelope.
//
// # Middleware
//
// Middleware wraps the rest of the pipeline and must call next at most
// once. Built-in layers run first, then WithMiddleware, then module
// middleware in import order, then the route dispatcher.
//
// # Health Checks
//
// Built singletons implementing HealthChecker or ReadinessChecker are
// probed by Container.Health and Container.Readiness; the readiness route
// reports the result.
package elif
