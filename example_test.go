package scalemap_test

import (
	"fmt"
	"strconv"

	"github.com/llxisdsh/scalemap"
)

func Example() {
	m := scalemap.New[string, int](scalemap.WithRemovePressure(5, 0))
	fmt.Println(m.Capacity(), m.Size())

	for i := 0; i < 10000; i++ {
		m.Put(strconv.Itoa(i), i)
	}
	fmt.Println(m.Capacity(), m.Size())

	for i := 9999; i >= 11; i-- {
		m.Remove(strconv.Itoa(i))
	}
	fmt.Println(m.Capacity(), m.Size())

	m.Shrink()
	fmt.Println(m.Capacity(), m.Size())

	// Output:
	// 16 0
	// 16384 10000
	// 32 11
	// 16 11
}
