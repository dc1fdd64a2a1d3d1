package models

// PlanItem is one sub-question waiting to be answered by an agent.
type PlanItem struct {
	// SubQuestion is the atomic question produced by decomposition.
	SubQuestion string `json:"sub_question"`
	// Agent is the kind of agent the item is routed to.
	Agent AgentKind `json:"agent"`
	// Attempt counts failed executions of this item. It starts at 0.
	Attempt int `json:"attempt"`
}

// CompletedItem is a PlanItem together with the text that answered it.
type CompletedItem struct {
	SubQuestion string    `json:"sub_question"`
	Agent       AgentKind `json:"agent"`
	Result      string    `json:"result"`
	// Failed marks a placeholder result recorded after retries ran out.
	Failed bool `json:"failed,omitempty"`
}

// RoutingPlan is the work queue for one conversation turn.
//
// Pending is strictly FIFO. The head of Pending stays in place while it is
// being executed and only leaves the queue through Complete or an exhausted
// Fail, so an item is never in both lists or in neither.
type RoutingPlan struct {
	// Queries are the user queries whose decompositions fed this plan.
	Queries   []string        `json:"queries,omitempty"`
	Pending   []PlanItem      `json:"pending"`
	Completed []CompletedItem `json:"completed"`
	// Active is true once decomposition produced at least one item and
	// the plan has not been formatted and reset since.
	Active bool `json:"active"`
}

// Head returns the item that must run next.
func (p *RoutingPlan) Head() (PlanItem, bool) {
	if len(p.Pending) == 0 {
		return PlanItem{}, false
	}
	return p.Pending[0], true
}

// Append adds decomposed items to the back of the queue.
func (p *RoutingPlan) Append(query string, items ...PlanItem) {
	if query != "" {
		p.Queries = append(p.Queries, query)
	}
	if len(items) == 0 {
		return
	}
	p.Pending = append(p.Pending, items...)
	p.Active = true
}

// Complete moves the head item to Completed with the given result.
// It is a no-op on an empty queue.
func (p *RoutingPlan) Complete(result string) {
	head, ok := p.Head()
	if !ok {
		return
	}
	p.Completed = append(p.Completed, CompletedItem{
		SubQuestion: head.SubQuestion,
		Agent:       head.Agent,
		Result:      result,
	})
	p.Pending = p.Pending[1:]
}

// Fail records a failed attempt of the head item. Once the attempt count
// exceeds maxRetries the item is force-completed with placeholder and Fail
// reports true. Otherwise the item stays at the front for another try.
func (p *RoutingPlan) Fail(maxRetries int, placeholder string) bool {
	if len(p.Pending) == 0 {
		return false
	}
	p.Pending[0].Attempt++
	if p.Pending[0].Attempt <= maxRetries {
		return false
	}
	head := p.Pending[0]
	p.Completed = append(p.Completed, CompletedItem{
		SubQuestion: head.SubQuestion,
		Agent:       head.Agent,
		Result:      placeholder,
		Failed:      true,
	})
	p.Pending = p.Pending[1:]
	return true
}

// Drained reports whether every item has completed.
func (p *RoutingPlan) Drained() bool {
	return len(p.Pending) == 0 && len(p.Completed) > 0
}

// Empty reports whether the plan holds no work at all.
func (p *RoutingPlan) Empty() bool {
	return len(p.Pending) == 0 && len(p.Completed) == 0
}

// Size returns len(Pending) + len(Completed).
func (p *RoutingPlan) Size() int {
	return len(p.Pending) + len(p.Completed)
}

// Reset clears the plan once its results have been formatted.
func (p *RoutingPlan) Reset() {
	*p = RoutingPlan{Pending: []PlanItem{}, Completed: []CompletedItem{}}
}

func (p RoutingPlan) clone() RoutingPlan {
	out := RoutingPlan{
		Queries:   append([]string(nil), p.Queries...),
		Pending:   append([]PlanItem{}, p.Pending...),
		Completed: append([]CompletedItem{}, p.Completed...),
		Active:    p.Active,
	}
	return out
}
