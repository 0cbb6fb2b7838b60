package risk

import "testing"

func TestExecutionQueueRoundRobinsAcrossLanes(t *testing.T) {
	q := NewExecutionQueue()
	q.Push(Approved{IntentID: "a1", StrategyID: "s1", InstID: "BTC"})
	q.Push(Approved{IntentID: "a2", StrategyID: "s1", InstID: "BTC"})
	q.Push(Approved{IntentID: "b1", StrategyID: "s2", InstID: "ETH"})

	var order []string
	for {
		a, ok := q.Pop()
		if !ok {
			break
		}
		order = append(order, a.IntentID)
	}

	if len(order) != 3 {
		t.Fatalf("popped %d intents, expected 3", len(order))
	}
	// Round robin: s1's lane and s2's lane alternate, so s2's single
	// intent is not starved behind both of s1's.
	if order[0] != "a1" || order[1] != "b1" || order[2] != "a2" {
		t.Fatalf("pop order = %v, expected [a1 b1 a2]", order)
	}
}

func TestExecutionQueuePopOnEmptyReturnsFalse(t *testing.T) {
	q := NewExecutionQueue()
	if _, ok := q.Pop(); ok {
		t.Fatalf("expected Pop on empty queue to return false")
	}
}

func TestExecutionQueueLenTracksAcrossLanes(t *testing.T) {
	q := NewExecutionQueue()
	q.Push(Approved{IntentID: "a1", StrategyID: "s1", InstID: "BTC"})
	q.Push(Approved{IntentID: "b1", StrategyID: "s2", InstID: "ETH"})
	if q.Len() != 2 {
		t.Fatalf("Len()=%d, expected 2", q.Len())
	}
	q.Pop()
	if q.Len() != 1 {
		t.Fatalf("Len()=%d after one pop, expected 1", q.Len())
	}
}
