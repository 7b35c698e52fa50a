package st

// EnterFunc is called when Walk reaches an object, before any of its
// children. Returning descend=false skips the object's children; onLeave
// is still called for it.
type EnterFunc func(path ResolvedPath, o *Object) (descend bool, err error)

// LeaveFunc is called once all of an object's visited children have been
// left.
type LeaveFunc func(path ResolvedPath, o *Object) error

type walkFrame struct {
	path     ResolvedPath
	obj      *Object
	children []*Object
	next     int
}

// Walk traverses the current tree below o, which lives at path, calling
// onEnter in prefix order and onLeave in postfix order. Children are
// visited files first, then by name. Either callback may be nil.
//
// The traversal uses an explicit stack so deep trees cannot exhaust the
// goroutine stack.
func Walk(dir Directory, o *Object, path ResolvedPath, onEnter EnterFunc, onLeave LeaveFunc) error {
	var stack []*walkFrame

	push := func(path ResolvedPath, o *Object) error {
		descend := true
		if onEnter != nil {
			d, err := onEnter(path, o)
			if err != nil {
				return err
			}
			descend = d
		}
		f := &walkFrame{path: path, obj: o}
		if descend {
			children, err := ChildrenOf(dir, o)
			if err != nil {
				return err
			}
			f.children = children
		}
		stack = append(stack, f)
		return nil
	}

	if err := push(path, o); err != nil {
		return err
	}

	for len(stack) > 0 {
		f := stack[len(stack)-1]
		if f.next < len(f.children) {
			c := f.children[f.next]
			f.next++
			if err := push(f.path.Join(c.SOID, c.Name), c); err != nil {
				return err
			}
			continue
		}

		stack = stack[:len(stack)-1]
		if onLeave != nil {
			if err := onLeave(f.path, f.obj); err != nil {
				return err
			}
		}
	}
	return nil
}
