package balancer

// Node is the selector's read-only view of a host node record.
type Node struct {
	ID   string `json:"id,omitempty"`
	Host string `json:"host"`
}

// Key is the node's stable identifier: its ID, or its host when no ID is set.
func (n Node) Key() string {
	if n.ID != "" {
		return n.ID
	}
	return n.Host
}
