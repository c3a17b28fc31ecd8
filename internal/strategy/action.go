package strategy

import "fmt"

// BidAction is a single step of a provisioning plan: either SubmitSpot or SubmitOnDemand
type BidAction interface {
	fmt.Stringer
	isBidAction()
}

// SubmitSpot places one spot bid at Price
type SubmitSpot struct {
	Price float64 `json:"price"`
}

// SubmitOnDemand launches Count on-demand instances
type SubmitOnDemand struct {
	Count int `json:"count"`
}

func (SubmitSpot) isBidAction()     {}
func (SubmitOnDemand) isBidAction() {}

func (a SubmitSpot) String() string {
	return fmt.Sprintf("spot@%.4f", a.Price)
}

func (a SubmitOnDemand) String() string {
	return fmt.Sprintf("ondemand x%d", a.Count)
}
