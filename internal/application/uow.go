package application

import "context"

// UnitOfWork runs fn inside one storage transaction carried by ctx.
// An error from fn rolls everything fn wrote back.
type UnitOfWork interface {
	Do(ctx context.Context, fn func(ctx context.Context) error) error
}
