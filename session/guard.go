package session

// Policy is a route's static access rule. The two flags are mutually
// exclusive; a route with neither set renders for everyone.
type Policy struct {
	RequiresAuth  bool
	AnonymousOnly bool
}

func (p Policy) Valid() bool {
	return !(p.RequiresAuth && p.AnonymousOnly)
}

// Decision tells the caller what to render for a route given the current
// session status.
type Decision byte

const (
	// DecisionRender mounts the route's own chrome and content.
	DecisionRender Decision = iota
	// DecisionShowLoading shows a loading placeholder inside the anonymous
	// fallback chrome while the initial session check is outstanding.
	DecisionShowLoading
	DecisionRedirectLogin
	DecisionRedirectDashboard
)

func (d Decision) String() string {
	switch d {
	case DecisionRender:
		return "render"
	case DecisionShowLoading:
		return "show_loading"
	case DecisionRedirectLogin:
		return "redirect_login"
	case DecisionRedirectDashboard:
		return "redirect_dashboard"
	default:
		return "unknown"
	}
}

// RedirectPath is the navigation target for the redirect decisions, empty
// otherwise.
func (d Decision) RedirectPath() string {
	switch d {
	case DecisionRedirectLogin:
		return LoginRoute.Path
	case DecisionRedirectDashboard:
		return DashboardRoute.Path
	default:
		return ""
	}
}

// Decide is a pure function of (policy, status). Evaluation order is fixed:
// loading check, authentication check, anonymous-only check, render.
func Decide(policy Policy, status Status) Decision {
	if status == StatusResolving && policy.RequiresAuth {
		return DecisionShowLoading
	}
	if policy.RequiresAuth && status != StatusAuthenticated {
		return DecisionRedirectLogin
	}
	if policy.AnonymousOnly && status == StatusAuthenticated {
		return DecisionRedirectDashboard
	}
	return DecisionRender
}

type Route struct {
	Name   string
	Title  string
	Path   string
	Policy Policy
}

// DocumentTitle is what the window title should read while the route is
// displayed. Routes without a title show the bare application name.
func (r Route) DocumentTitle(appName string) string {
	if r.Title == "" {
		return appName
	}
	return r.Title + " | " + appName
}

var (
	HomeRoute = Route{Name: "home", Path: "/",
		Policy: Policy{AnonymousOnly: true}}
	LoginRoute = Route{Name: "login", Title: "Login", Path: "/login",
		Policy: Policy{AnonymousOnly: true}}
	RegisterRoute = Route{Name: "register", Title: "Register", Path: "/register",
		Policy: Policy{AnonymousOnly: true}}
	ConfirmEmailRoute = Route{Name: "confirm_email", Title: "Confirm email", Path: "/confirm-email/:key",
		Policy: Policy{}}
	ResetPasswordRoute = Route{Name: "reset_password", Title: "Reset password", Path: "/reset-password",
		Policy: Policy{AnonymousOnly: true}}
	SetPasswordRoute = Route{Name: "set_password", Title: "Set password", Path: "/set-password/:key",
		Policy: Policy{}}
	DashboardRoute = Route{Name: "dashboard", Title: "Dashboard", Path: "/dashboard",
		Policy: Policy{RequiresAuth: true}}
	AccountRoute = Route{Name: "account", Title: "Account", Path: "/account",
		Policy: Policy{RequiresAuth: true}}
	NotFoundRoute = Route{Name: "not_found", Title: "404", Path: "*",
		Policy: Policy{}}
)

var Routes = mapRoutesByName(
	HomeRoute,
	LoginRoute,
	RegisterRoute,
	ConfirmEmailRoute,
	ResetPasswordRoute,
	SetPasswordRoute,
	DashboardRoute,
	AccountRoute,
	NotFoundRoute,
)

func mapRoutesByName(routes ...Route) map[string]Route {
	routesMap := make(map[string]Route)
	for _, route := range routes {
		if !route.Policy.Valid() {
			panic("Conflicting access policy for route `" + route.Name + "`!")
		}
		if _, ok := routesMap[route.Name]; ok {
			panic("Duplicated route name: `" + route.Name + "`!")
		}
		routesMap[route.Name] = route
	}
	return routesMap
}

// RouteByName resolves a route from the registry.
func RouteByName(name string) (Route, bool) {
	route, ok := Routes[name]
	return route, ok
}

// ContentFactory produces the content a route displays once the guard
// decides to render it.
type ContentFactory func() interface{}

// ContentTable binds every registered route to its content factory. The
// binding is checked once at construction; resolving content afterwards is a
// plain map lookup.
type ContentTable map[string]ContentFactory

func NewContentTable(factories map[string]ContentFactory) ContentTable {
	for name := range factories {
		if _, ok := Routes[name]; !ok {
			panic("Content factory for unknown route: `" + name + "`!")
		}
	}
	for name := range Routes {
		if _, ok := factories[name]; !ok {
			panic("Route without content factory: `" + name + "`!")
		}
	}
	return ContentTable(factories)
}

func (t ContentTable) Content(route Route) interface{} {
	factory, ok := t[route.Name]
	if !ok {
		return nil
	}
	return factory()
}
