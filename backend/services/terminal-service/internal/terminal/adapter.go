package terminal

import "context"

// Adapter is the uniform transaction lifecycle every terminal implementation provides.
// At most one transaction is in flight per adapter; a second StartTransaction while busy
// fails with ErrBusy.
type Adapter interface {
	// Vendor returns the registry name the adapter was built for.
	Vendor() string
	Status() Status
	// Info returns the cached device description.
	Info() TerminalInfo
	SupportedPaymentMethods() []PaymentMethod

	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	// Reset disconnects and connects again; it is the only way out of error and
	// maintenance.
	Reset(ctx context.Context) error
	// Ping checks that an idle terminal still answers.
	Ping(ctx context.Context) error
	EnterMaintenance(ctx context.Context) error

	// StartTransaction returns after the terminal acknowledged the sale. Settlement is
	// observed by polling GetTransactionStatus.
	StartTransaction(ctx context.Context, req TransactionRequest) (TransactionResponse, error)
	GetTransactionStatus(ctx context.Context, id string) (TransactionResponse, error)
	CancelTransaction(ctx context.Context, id string) (TransactionResponse, error)
	ConfirmTransaction(ctx context.Context, id string) (TransactionResponse, error)
	// CurrentTransaction returns the id of the in-flight transaction, if any.
	CurrentTransaction() (string, bool)

	PrintReceipt(ctx context.Context, id string, kind ReceiptKind) error
	PrintCustomText(ctx context.Context, text string) error
	Configure(ctx context.Context, settings map[string]string) error

	// Subscribe registers an observer; the returned func unregisters it.
	Subscribe(o StatusObserver) func()
}
