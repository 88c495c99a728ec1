package event

// Withdraw returns Amount of the owner's deposit claim to their wallet.
type Withdraw struct{ AssetAction }

func (*Withdraw) Kind() ActionKind { return ActionWithdraw }

// Borrow lends Amount of Asset against the owner's other deposit.
type Borrow struct{ AssetAction }

func (*Borrow) Kind() ActionKind { return ActionBorrow }

// Repay returns Amount of borrowed Asset to the bank.
type Repay struct{ AssetAction }

func (*Repay) Kind() ActionKind { return ActionRepay }
