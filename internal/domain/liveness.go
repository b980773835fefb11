package domain

import "time"

// LivenessStatus is the state of an interface or pair under liveness monitoring
type LivenessStatus string

const (
	LivenessDown LivenessStatus = "down"
	LivenessUp   LivenessStatus = "up"
)

// InterfaceLiveness is the per-interface view of the detector
type InterfaceLiveness struct {
	ID          string         `json:"id"`
	Status      LivenessStatus `json:"status"`
	LastHelloAt *time.Time     `json:"last_hello_at"`
}

// LivenessPair is the joint view of two monitored interfaces that exchange hellos
type LivenessPair struct {
	InterfaceA InterfaceLiveness `json:"interface_a"`
	InterfaceB InterfaceLiveness `json:"interface_b"`
	Status     LivenessStatus    `json:"status"`
}

// JointStatus is up only when both sides are up
func JointStatus(a, b LivenessStatus) LivenessStatus {
	if a == LivenessUp && b == LivenessUp {
		return LivenessUp
	}
	return LivenessDown
}
