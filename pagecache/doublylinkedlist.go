package pagecache

// node represents an element in the doubly linked list.
type node[T any] struct {
	data T
	prev *node[T]
	next *node[T]
}

// doublyLinkedList is a minimal doubly linked list ordering page frames from most to least recently used.
type doublyLinkedList[T any] struct {
	head *node[T]
	tail *node[T]
	size int
}

func newDoublyLinkedList[T any]() *doublyLinkedList[T] {
	return &doublyLinkedList[T]{}
}

func (dll *doublyLinkedList[T]) count() int {
	return dll.size
}

func (dll *doublyLinkedList[T]) isEmpty() bool {
	return dll.head == nil
}

// addToHead inserts a new node with data at the head of the list and returns it.
func (dll *doublyLinkedList[T]) addToHead(data T) *node[T] {
	newNode := &node[T]{data: data, next: dll.head}
	if dll.head != nil {
		dll.head.prev = newNode
	} else {
		dll.tail = newNode
	}
	dll.head = newNode
	dll.size++
	return newNode
}

// moveToHead relinks n as the head of the list.
func (dll *doublyLinkedList[T]) moveToHead(n *node[T]) {
	if n == nil || n == dll.head {
		return
	}
	dll.delete(n)
	n.next = dll.head
	if dll.head != nil {
		dll.head.prev = n
	} else {
		dll.tail = n
	}
	dll.head = n
	dll.size++
}

// peekTail returns the least recently used node without removing it.
func (dll *doublyLinkedList[T]) peekTail() *node[T] {
	return dll.tail
}

// delete unchains the node n from the list.
func (dll *doublyLinkedList[T]) delete(n *node[T]) bool {
	if n == nil {
		return false
	}

	if n == dll.head {
		dll.head = n.next
	}
	if n == dll.tail {
		dll.tail = n.prev
	}

	p := n.prev
	if p != nil {
		p.next = n.next
	}
	nxt := n.next
	if nxt != nil {
		nxt.prev = p
	}
	n.next = nil
	n.prev = nil

	dll.size--
	return true
}
