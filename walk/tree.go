package walk

import "github.com/go-forensics/mftwalk/mft"

// OrphanRecordNumber is the synthetic record number under which records whose real parent cannot be
// resolved (overrun, invalid, or sequence-number mismatch) are attached in a Tree, rather than being dropped.
// It deliberately reuses NTFS's reserved record 12, which on every volume this package has seen is unused.
const OrphanRecordNumber = 12

// Node is one entry in a Tree: a record together with its resolved parent and children.
type Node struct {
	tree               *Tree
	recordNumber       int
	filename           string
	parentRecordNumber int
	childRecordNumbers []int
}

// RecordNumber returns the MFT record number this node represents.
func (n *Node) RecordNumber() int {
	return n.recordNumber
}

// Filename returns the node's name as it appears in its parent directory.
func (n *Node) Filename() string {
	return n.filename
}

// Parent returns the node's parent, and whether it was found. Every node added to a Tree always has a
// resolvable parent (real or the orphan node), except the root itself, which is its own parent.
func (n *Node) Parent() (*Node, bool) {
	p, ok := n.tree.nodes[n.parentRecordNumber]
	return p, ok
}

// Children returns the node's child nodes. Child record numbers that have not themselves been added to the
// tree (which should not happen given BuildTree's parent-before-child insertion order, but is tolerated
// defensively) are omitted rather than returned as nil entries.
func (n *Node) Children() []*Node {
	children := make([]*Node, 0, len(n.childRecordNumbers))
	for _, num := range n.childRecordNumbers {
		if child, ok := n.tree.nodes[num]; ok {
			children = append(children, child)
		}
	}
	return children
}

// Child looks up a direct child of this node by exact filename, returning false if there is none.
func (n *Node) Child(filename string) (*Node, bool) {
	for _, num := range n.childRecordNumbers {
		child, ok := n.tree.nodes[num]
		if ok && child.filename == filename {
			return child, true
		}
	}
	return nil, false
}

// Tree is an in-memory representation of an entire volume's directory hierarchy, built by walking every MFT
// record once. Unlike PathResolver, which recomputes a record's path on each call, a Tree's parent/child
// links are resolved once up front, making repeated traversal and listing cheap.
type Tree struct {
	nodes map[int]*Node
}

// BuildTree walks every record reachable from enum and assembles a Tree. progress, if non-nil, is called
// once per record visited with the record number and the total record count.
func BuildTree(enum *Enumerator, progress ProgressFunc) (*Tree, error) {
	t := &Tree{nodes: make(map[int]*Node)}
	t.nodes[OrphanRecordNumber] = &Node{
		tree:               t,
		recordNumber:       OrphanRecordNumber,
		filename:           orphanEntry,
		parentRecordNumber: RootRecordNumber,
	}

	it := enum.RecordIter()
	total := enum.Len()
	for it.Next() {
		t.addRecord(enum, it.Record(), make(map[int]bool))
		if progress != nil {
			progress(it.RecordNumber(), total)
		}
	}
	if err := it.Err(); err != nil {
		return nil, err
	}
	return t, nil
}

// Root returns the tree's root node (record 5, "\."), and whether it was found. It will only be absent if
// record 5 itself failed to parse.
func (t *Tree) Root() (*Node, bool) {
	n, ok := t.nodes[RootRecordNumber]
	return n, ok
}

// Node looks up a node by its MFT record number.
func (t *Tree) Node(recordNumber int) (*Node, bool) {
	n, ok := t.nodes[recordNumber]
	return n, ok
}

// addRecord inserts record into the tree, first recursively inserting its parent if necessary so that a
// child is never attached before its parent exists. Records that cannot be placed (no $FILE_NAME attribute
// at all) are skipped; records whose parent cannot be resolved are reparented under the orphan node instead
// of being dropped. visiting holds the record numbers whose insertion is still in progress further up the
// recursion, so a parent chain that loops back on itself ends at the orphan node instead of recursing forever.
func (t *Tree) addRecord(enum *Enumerator, record mft.Record, visiting map[int]bool) {
	recordNumber := int(record.FileReference.RecordNumber)
	if _, ok := t.nodes[recordNumber]; ok {
		return
	}
	if visiting[recordNumber] {
		return
	}
	visiting[recordNumber] = true

	if recordNumber == RootRecordNumber {
		t.nodes[RootRecordNumber] = &Node{
			tree:               t,
			recordNumber:       RootRecordNumber,
			filename:           fileSeparator + ".",
			parentRecordNumber: RootRecordNumber,
			childRecordNumbers: []int{OrphanRecordNumber},
		}
		return
	}

	fileName, err := record.FileNameInformation()
	if err != nil {
		return
	}

	parentNumber := int(fileName.ParentFileReference.RecordNumber)
	parentSequence := fileName.ParentFileReference.SequenceNumber

	parentRecord, err := enum.Record(parentNumber)
	switch {
	case err != nil:
		parentNumber = OrphanRecordNumber
	case parentRecord.FileReference.SequenceNumber != parentSequence:
		parentNumber = OrphanRecordNumber
	default:
		t.addRecord(enum, parentRecord, visiting)
	}

	parentNode, ok := t.nodes[parentNumber]
	if !ok {
		// The parent record itself failed to be added to the tree (for example, it has no $FILE_NAME of its
		// own). Falling back to the orphan node here is the Go equivalent of guarding a missing-key lookup
		// that the original implementation this is based on handled with an except clause that could never
		// actually fire, since a dict lookup raises a different exception than the one it was catching.
		parentNode, ok = t.nodes[OrphanRecordNumber]
		if !ok {
			return
		}
		parentNumber = OrphanRecordNumber
	}

	node := &Node{
		tree:               t,
		recordNumber:       recordNumber,
		filename:           fileName.Name,
		parentRecordNumber: parentNumber,
	}
	t.nodes[recordNumber] = node
	parentNode.childRecordNumbers = append(parentNode.childRecordNumbers, recordNumber)
}
