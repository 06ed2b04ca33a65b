package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"storefront/internal/checkout"
	"storefront/internal/model"
)

var errMissingFlags = errors.New("missing required flags")

// ANSI color codes
var (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorGray   = "\033[90m"
	colorBold   = "\033[1m"
)

func init() {
	if os.Getenv("NO_COLOR") != "" {
		colorReset, colorRed, colorGreen, colorYellow = "", "", "", ""
		colorCyan, colorGray, colorBold = "", "", ""
	}
}

// =============================================================================
// CART COMMANDS
// =============================================================================

func runCart(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("cart", flag.ExitOnError)
	refresh := fs.Bool("refresh", true, "Fetch the cart from the store")
	fs.Parse(args)

	if *refresh || !a.cart.Loaded() {
		if err := a.cart.Load(ctx); err != nil {
			return userError(err)
		}
	}
	printCart(a.cart.Snapshot(), a.ids.Current(ctx))
	return nil
}

func runAdd(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("add", flag.ExitOnError)
	productID := fs.String("product", "", "Product ID (required)")
	qty := fs.Int("qty", 1, "Quantity to add")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: storefront add -product ID [-qty N]\n\nOptions:\n")
		fs.PrintDefaults()
	}
	fs.Parse(args)

	if *productID == "" {
		fs.Usage()
		return errMissingFlags
	}
	if err := a.cart.AddItem(ctx, *productID, *qty); err != nil {
		return userError(err)
	}
	printSuccess("Added %d × %s", *qty, *productID)
	printCart(a.cart.Snapshot(), a.ids.Current(ctx))
	return nil
}

func runUpdate(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("update", flag.ExitOnError)
	item := fs.String("item", "", "Line reference or product ID (required)")
	qty := fs.Int("qty", 1, "New quantity; 0 removes the line")
	fs.Parse(args)

	if *item == "" {
		fs.Usage()
		return errMissingFlags
	}
	if err := a.cart.UpdateQuantity(ctx, *item, *qty); err != nil {
		return userError(err)
	}
	printCart(a.cart.Snapshot(), a.ids.Current(ctx))
	return nil
}

func runRemove(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("remove", flag.ExitOnError)
	item := fs.String("item", "", "Line reference or product ID (required)")
	fs.Parse(args)

	if *item == "" {
		fs.Usage()
		return errMissingFlags
	}
	if err := a.cart.RemoveItem(ctx, *item); err != nil {
		return userError(err)
	}
	printCart(a.cart.Snapshot(), a.ids.Current(ctx))
	return nil
}

func runClear(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("clear", flag.ExitOnError)
	fs.Parse(args)

	if err := a.cart.Clear(ctx); err != nil {
		return userError(err)
	}
	printSuccess("Cart cleared")
	return nil
}

// =============================================================================
// ACCOUNT COMMANDS
// =============================================================================

func runLogin(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	email := fs.String("email", "", "Account email (required)")
	password := fs.String("password", os.Getenv("STOREFRONT_PASSWORD"), "Account password (default $STOREFRONT_PASSWORD)")
	fs.Parse(args)

	if *email == "" || *password == "" {
		fs.Usage()
		return errMissingFlags
	}

	session, err := a.client.Login(ctx, *email, *password)
	if err != nil {
		return userError(err)
	}
	a.ids.Login(ctx, session.Token)

	printSuccess("Signed in as %s", session.Account.Email)

	// The account cart now applies; the backend decides whether the guest cart merged into it.
	if err := a.cart.Load(ctx); err != nil {
		printWarning("Could not load the account cart: %s", model.UserMessage(err))
		return nil
	}
	printCart(a.cart.Snapshot(), a.ids.Current(ctx))
	return nil
}

func runLogout(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("logout", flag.ExitOnError)
	fs.Parse(args)

	a.ids.Logout(ctx)
	printSuccess("Signed out")
	return nil
}

func runWhoami(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("whoami", flag.ExitOnError)
	fs.Parse(args)

	id := a.ids.Current(ctx)
	if !id.IsAuthenticated() {
		fmt.Printf("guest (session %s)\n", id.SessionID)
		return nil
	}

	account, err := a.client.CurrentUser(ctx)
	if err != nil {
		if errors.Is(err, model.ErrUnauthorized) {
			printWarning("The account token was rejected, run 'storefront login' again")
		}
		return userError(err)
	}
	name := strings.TrimSpace(account.FirstName + " " + account.LastName)
	fmt.Printf("%s%s%s <%s>\n", colorBold, name, colorReset, account.Email)
	return nil
}

// =============================================================================
// CHECKOUT COMMAND
// =============================================================================

// addressFlags registers one address's flags under prefix.
func addressFlags(fs *flag.FlagSet, prefix string, addr *model.Address) {
	fs.StringVar(&addr.FullName, prefix+"name", "", "Recipient name")
	fs.StringVar(&addr.Phone, prefix+"address-phone", "", "Recipient phone")
	fs.StringVar(&addr.AddressLine1, prefix+"address", "", "Address line 1")
	fs.StringVar(&addr.AddressLine2, prefix+"address2", "", "Address line 2")
	fs.StringVar(&addr.City, prefix+"city", "", "City")
	fs.StringVar(&addr.State, prefix+"state", "", "State")
	fs.StringVar(&addr.PostalCode, prefix+"postal", "", "Postal code")
	fs.StringVar(&addr.Country, prefix+"country", "", "Country")
}

func runCheckout(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("checkout", flag.ExitOnError)
	var in checkout.Input
	fs.StringVar(&in.Contact.Email, "email", "", "Contact email (guest checkout)")
	fs.StringVar(&in.Contact.Phone, "phone", "", "Contact phone (guest checkout)")
	addressFlags(fs, "", &in.Shipping)
	addressFlags(fs, "billing-", &in.Billing)
	method := fs.String("method", string(model.PayOnDelivery), "pay_on_delivery or online_payment")
	fs.StringVar(&in.Notes, "notes", "", "Delivery notes")
	fs.Parse(args)

	in.PaymentMethod = model.PaymentMethod(*method)
	in.BillingSameAsShipping = in.Billing == (model.Address{})
	if in.Shipping.Phone == "" {
		in.Shipping.Phone = in.Contact.Phone
	}

	order, err := a.newCheckout().Submit(ctx, in)
	if err != nil {
		var verrs model.ValidationErrors
		if errors.As(err, &verrs) {
			for _, e := range verrs {
				printError("%s: %s", e.Field, e.Message)
			}
			return errors.New("checkout form is incomplete")
		}
		return userError(err)
	}

	// The cleared cart still reports the store currency.
	currency := a.cart.Snapshot().Totals.Currency

	printSuccess("Order %s placed", order.OrderNumber)
	fmt.Printf("  Total:   %s\n", model.FormatAmount(order.TotalAmount, currency))
	fmt.Printf("  Payment: %s\n", order.PaymentMethod)
	fmt.Printf("  Status:  %s\n", order.Status)
	return nil
}

// =============================================================================
// OUTPUT
// =============================================================================

func printCart(snap model.CartSnapshot, id model.Identity) {
	cur := snap.Totals.Currency
	fmt.Printf("%sCart%s %s(%s)%s\n", colorBold, colorReset, colorGray, id.Kind, colorReset)
	if len(snap.Items) == 0 {
		fmt.Println("  (empty)")
		return
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "  REF\tITEM\tQTY\tPRICE\tSUBTOTAL\t")
	for _, item := range snap.Items {
		note := ""
		if item.TracksInventory && item.AvailableStock != nil {
			note = fmt.Sprintf(" (%d left)", *item.AvailableStock)
		}
		fmt.Fprintf(tw, "  %s\t%s%s\t%d\t%s\t%s\t\n",
			item.LineRef(), item.Name, note, item.Quantity,
			model.FormatAmount(item.UnitPrice, cur), model.FormatAmount(item.Subtotal, cur))
	}
	tw.Flush()

	fmt.Printf("  Subtotal: %s\n", model.FormatAmount(snap.Totals.Subtotal, cur))
	if snap.Totals.TaxAmount != 0 {
		fmt.Printf("  Tax:      %s\n", model.FormatAmount(snap.Totals.TaxAmount, cur))
	}
	fmt.Printf("  Shipping: %s\n", model.FormatAmount(snap.Totals.ShippingAmount, cur))
	fmt.Printf("  %sTotal:    %s%s\n", colorBold, model.FormatAmount(snap.Totals.TotalAmount, cur), colorReset)

	if t := snap.Metadata.FreeShippingThreshold; t > 0 && snap.Totals.Subtotal < t {
		printInfo("Add %s more for free shipping", model.FormatAmount(t-snap.Totals.Subtotal, cur))
	}
}

// userError reduces err to the message meant for the shopper.
func userError(err error) error {
	return errors.New(model.UserMessage(err))
}

func printSuccess(format string, args ...any) {
	fmt.Printf("%s✓ %s%s\n", colorGreen, fmt.Sprintf(format, args...), colorReset)
}

func printError(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "%s✗ %s%s\n", colorRed, fmt.Sprintf(format, args...), colorReset)
}

func printWarning(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "%s⚠ %s%s\n", colorYellow, fmt.Sprintf(format, args...), colorReset)
}

func printInfo(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "%s→ %s%s\n", colorGray, fmt.Sprintf(format, args...), colorReset)
}

func fatal(format string, args ...any) {
	printError(format, args...)
	os.Exit(1)
}
