package core

import (
	"reflect"

	"github.com/encodeous/aramid/state"
)

func AddCost(a, b uint32) uint32 {
	if a == state.INF || b == state.INF {
		return state.INF
	}
	sum := uint64(a) + uint64(b)
	if sum >= uint64(state.INF) {
		return state.INF
	}
	return uint32(sum)
}

func Get[T state.Module](s *state.State) T {
	t := reflect.TypeFor[T]()
	return s.Modules[t.String()].(T)
}
