package sandbox

// Status is the outcome of one expectation.
type Status string

const (
	StatusPass  Status = "pass"
	StatusFail  Status = "fail"
	StatusError Status = "error"
)

// ExpectResult is one recorded expectation.
type ExpectResult struct {
	Status  Status `json:"status"`
	Message string `json:"message"`
}

// TestNode is one pw.test block. The root node collects expectations made
// outside any block.
type TestNode struct {
	Descriptor    string         `json:"descriptor"`
	ExpectResults []ExpectResult `json:"expectResults"`
	Children      []*TestNode    `json:"children"`
}

// TestReport is a flattened test node with at least one expectation.
type TestReport struct {
	Descriptor    string         `json:"descriptor"`
	ExpectResults []ExpectResult `json:"expectResults"`
	Passed        int            `json:"passed"`
	Failed        int            `json:"failed"`
}

// Reports flattens the tree in pre-order. Nodes without expectations are
// skipped but their children are still visited. Both fail and error count as
// failed.
func (n *TestNode) Reports() []TestReport {
	if n == nil {
		return nil
	}
	var out []TestReport
	var walk func(*TestNode)
	walk = func(node *TestNode) {
		if len(node.ExpectResults) > 0 {
			r := TestReport{Descriptor: node.Descriptor, ExpectResults: node.ExpectResults}
			for _, e := range node.ExpectResults {
				if e.Status == StatusPass {
					r.Passed++
				} else {
					r.Failed++
				}
			}
			out = append(out, r)
		}
		for _, c := range node.Children {
			walk(c)
		}
	}
	walk(n)
	return out
}

type testStack struct {
	nodes []*TestNode
}

func newTestStack() *testStack {
	return &testStack{nodes: []*TestNode{{Descriptor: "root"}}}
}

func (s *testStack) root() *TestNode { return s.nodes[0] }

func (s *testStack) top() *TestNode { return s.nodes[len(s.nodes)-1] }

func (s *testStack) record(status Status, msg string) {
	top := s.top()
	top.ExpectResults = append(top.ExpectResults, ExpectResult{Status: status, Message: msg})
}

func (s *testStack) push(descriptor string) {
	s.nodes = append(s.nodes, &TestNode{Descriptor: descriptor})
}

// pop closes the innermost block and attaches it to its parent.
func (s *testStack) pop() {
	if len(s.nodes) < 2 {
		return
	}
	child := s.top()
	s.nodes = s.nodes[:len(s.nodes)-1]
	parent := s.top()
	parent.Children = append(parent.Children, child)
}

// unwindTo drops the blocks opened at or above depth, leaving enclosing
// blocks open.
func (s *testStack) unwindTo(depth int) {
	if depth < 1 {
		depth = 1
	}
	if depth < len(s.nodes) {
		s.nodes = s.nodes[:depth]
	}
}
