package game

import "fmt"

// Slot names one of the nine equipment positions
type Slot string

const (
	SlotHead     Slot = "head"
	SlotNeck     Slot = "neck"
	SlotBody     Slot = "body"
	SlotMainHand Slot = "mainHand"
	SlotOffHand  Slot = "offHand"
	SlotCloak    Slot = "cloak"
	SlotFeet     Slot = "feet"
	SlotRing1    Slot = "ring1"
	SlotRing2    Slot = "ring2"
)

// Slots lists every slot in display order
var Slots = []Slot{
	SlotHead, SlotNeck, SlotBody, SlotMainHand, SlotOffHand,
	SlotCloak, SlotFeet, SlotRing1, SlotRing2,
}

// Equipment holds at most one item per slot
type Equipment struct {
	Head     *Item `json:"head" yaml:"head"`
	Neck     *Item `json:"neck" yaml:"neck"`
	Body     *Item `json:"body" yaml:"body"`
	MainHand *Item `json:"mainHand" yaml:"mainHand"`
	OffHand  *Item `json:"offHand" yaml:"offHand"`
	Cloak    *Item `json:"cloak" yaml:"cloak"`
	Feet     *Item `json:"feet" yaml:"feet"`
	Ring1    *Item `json:"ring1" yaml:"ring1"`
	Ring2    *Item `json:"ring2" yaml:"ring2"`
}

// ParseSlot validates a slot name
func ParseSlot(name string) (Slot, error) {
	for _, s := range Slots {
		if string(s) == name {
			return s, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidSlot, name)
}

func (e *Equipment) ref(slot Slot) (**Item, error) {
	switch slot {
	case SlotHead:
		return &e.Head, nil
	case SlotNeck:
		return &e.Neck, nil
	case SlotBody:
		return &e.Body, nil
	case SlotMainHand:
		return &e.MainHand, nil
	case SlotOffHand:
		return &e.OffHand, nil
	case SlotCloak:
		return &e.Cloak, nil
	case SlotFeet:
		return &e.Feet, nil
	case SlotRing1:
		return &e.Ring1, nil
	case SlotRing2:
		return &e.Ring2, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrInvalidSlot, slot)
}

// Get returns the item in a slot, or nil when it is empty
func (e *Equipment) Get(slot Slot) (*Item, error) {
	ref, err := e.ref(slot)
	if err != nil {
		return nil, err
	}
	return *ref, nil
}

// Equip moves the first inventory item with itemID into slot. An item
// already in the slot goes to the end of the inventory with quantity 1.
func (c *Character) Equip(itemID string, slot Slot) error {
	ref, err := c.Equipment.ref(slot)
	if err != nil {
		return err
	}

	index := -1
	for i := range c.Inventory {
		if c.Inventory[i].ID == itemID {
			index = i
			break
		}
	}
	if index < 0 {
		return fmt.Errorf("%w: %s", ErrItemNotFound, itemID)
	}

	item := c.Inventory[index]
	inventory := make([]Item, 0, len(c.Inventory))
	inventory = append(inventory, c.Inventory[:index]...)
	inventory = append(inventory, c.Inventory[index+1:]...)

	if displaced := *ref; displaced != nil {
		returned := *displaced
		returned.Quantity = 1
		inventory = append(inventory, returned)
	}

	c.Inventory = inventory
	*ref = &item
	return nil
}

// Unequip moves the item in slot to the end of the inventory with quantity 1
func (c *Character) Unequip(slot Slot) error {
	ref, err := c.Equipment.ref(slot)
	if err != nil {
		return err
	}
	if *ref == nil {
		return fmt.Errorf("%w: %s", ErrSlotEmpty, slot)
	}

	returned := **ref
	returned.Quantity = 1
	c.Inventory = append(c.Inventory, returned)
	*ref = nil
	return nil
}
