package lifetime

type Lifetime int

const (
	Singleton Lifetime = iota
	Scoped
	Transient
)

func (l Lifetime) String() string {
	switch l {
	case Singleton:
		return "singleton"
	case Scoped:
		return "scoped"
	case Transient:
		return "transient"
	default:
		return "unknown"
	}
}

func (l Lifetime) Valid() bool {
	return l >= Singleton && l <= Transient
}

// CanDependOn reports whether a binding with lifetime l may hold an instance
// with lifetime dep. Transient accepts anything, Scoped accepts Scoped and
// Singleton, Singleton accepts Singleton only.
func (l Lifetime) CanDependOn(dep Lifetime) bool {
	switch l {
	case Transient:
		return true
	case Scoped:
		return dep == Scoped || dep == Singleton
	case Singleton:
		return dep == Singleton
	default:
		return false
	}
}
