package board

import (
	"fmt"

	"github.com/busboard/busboard/pkg/orchestrator"
	"github.com/busboard/busboard/pkg/transport"
)

func render(items []orchestrator.DisplayItem) {
	for _, item := range items {
		switch {
		case item.BusBoard != nil:
			renderBusBoard(item)
		case item.StationBoard != nil:
			renderStationBoard(item)
		}

		fmt.Println()
	}
}

func renderBusBoard(item orchestrator.DisplayItem) {
	stop := item.BusBoard.Stop

	marker := ""
	if item.IsFavourite {
		marker = " *"
	}

	fmt.Printf("%s %s (%s) %.0fm%s\n", stopTitle(stop), bearingLabel(stop.Bearing), stop.ATCOCode, item.DistanceMeters, marker)

	if item.Error != "" {
		fmt.Printf("  unavailable: %s\n", item.Error)
		return
	}
	if len(item.BusBoard.Departures) == 0 {
		fmt.Println("  no departures")
		return
	}

	for _, departure := range item.BusBoard.Departures {
		fmt.Printf("  %-5s %-24s %s\n", departure.Line, departure.Destination, departureTiming(departure))
	}
}

func stopTitle(stop transport.Stop) string {
	if stop.Indicator != "" {
		return fmt.Sprintf("%s %s", stop.Name, stop.Indicator)
	}

	return stop.Name
}

func bearingLabel(bearing string) string {
	if bearing == "" {
		return "-"
	}

	return bearing
}

func departureTiming(departure transport.Departure) string {
	switch departure.Status {
	case transport.DepartureStatusCancelled:
		return "cancelled"
	case transport.DepartureStatusDelayed:
		return fmt.Sprintf("%dm (delayed)", departure.MinutesUntil)
	}

	if departure.IsRealTime {
		return fmt.Sprintf("%dm (live)", departure.MinutesUntil)
	}

	return fmt.Sprintf("%dm", departure.MinutesUntil)
}

func renderStationBoard(item orchestrator.DisplayItem) {
	station := item.StationBoard.Station

	fmt.Printf("%s rail station (%s) %.0fm\n", station.Name, station.CRS, item.DistanceMeters)

	if item.Error != "" {
		fmt.Printf("  unavailable: %s\n", item.Error)
		return
	}
	if len(item.StationBoard.Departures) == 0 {
		fmt.Println("  no departures")
		return
	}

	for _, departure := range item.StationBoard.Departures {
		timing := departure.ExpectedAt
		switch departure.Status {
		case transport.DepartureStatusCancelled:
			timing = "cancelled"
		case transport.DepartureStatusDelayed:
			if timing == "" {
				timing = "delayed"
			} else {
				timing = fmt.Sprintf("exp %s", timing)
			}
		}

		platform := departure.Platform
		if platform == "" {
			platform = "-"
		}

		fmt.Printf("  %s %-28s plat %-3s %s\n", departure.ScheduledAt, departure.Destination, platform, timing)
	}
}
