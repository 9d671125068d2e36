package builder

// workQueue tracks which units of one pass still wait for compilation.
type workQueue struct {
	needsCompiling map[string]bool
	compiled       map[string]bool
}

func newWorkQueue() *workQueue {
	return &workQueue{
		needsCompiling: make(map[string]bool),
		compiled:       make(map[string]bool),
	}
}

func (q *workQueue) add(locator string) { q.needsCompiling[locator] = true }

func (q *workQueue) finished(locator string) {
	delete(q.needsCompiling, locator)
	q.compiled[locator] = true
}

func (q *workQueue) isCompiled(locator string) bool { return q.compiled[locator] }

func (q *workQueue) isWaiting(locator string) bool { return q.needsCompiling[locator] }

func (q *workQueue) clear() {
	clear(q.needsCompiling)
	clear(q.compiled)
}
