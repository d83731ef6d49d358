package domain

import "strings"

// Container is one of the fixed record kinds, or the catch-all unknown bucket.
type Container string

const (
	ContainerFood     Container = "food"
	ContainerSleep    Container = "sleep"
	ContainerExercise Container = "exercise"
	ContainerUnknown  Container = "unknown"
)

// StorableContainers lists the containers that own a record store, in display order.
var StorableContainers = []Container{ContainerFood, ContainerSleep, ContainerExercise}

// ParseContainer accepts a container name in any case. Unknown names return false.
func ParseContainer(s string) (Container, bool) {
	switch Container(strings.ToLower(strings.TrimSpace(s))) {
	case ContainerFood:
		return ContainerFood, true
	case ContainerSleep:
		return ContainerSleep, true
	case ContainerExercise:
		return ContainerExercise, true
	case ContainerUnknown:
		return ContainerUnknown, true
	}
	return "", false
}

// Storable reports whether records of this container are written to a store.
func (c Container) Storable() bool {
	return c == ContainerFood || c == ContainerSleep || c == ContainerExercise
}

func (c Container) String() string { return string(c) }
